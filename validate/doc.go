// Package validate checks that request parameters carry every required
// field before a remote call is attempted.
//
// A field is missing when it is absent, nil (including typed nil pointers,
// maps and slices), or a string that is empty after trimming whitespace.
// Zero numbers and false booleans are present values.
package validate
