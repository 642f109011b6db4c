// Package release defines the fixed release pipeline of the Stacks
// workspace.
//
// The pipeline compiles the whole workspace in release mode for a single
// target triple and exports four binaries into an artifact-only image. The
// target triple, base image, and binary names are compile-time constants;
// nothing about the pipeline is configurable at run time except the version
// metadata passed to the compiler.
package release
