// Package recipe defines the staged build recipe executed by the build
// package.
//
// A recipe is an ordered list of stages. Every stage but the last starts from
// a base image and runs steps inside a build container. The last stage starts
// from "scratch": it is artifact-only and may contain nothing but cross-stage
// copies of files produced by earlier stages.
//
// Steps either run a shell command, copy files, or set modifiers (shell,
// working directory, environment) for the steps that follow. Each step may
// carry a [Phase] that classifies its failures.
//
// Example recipe in YAML form:
//
//	stages:
//	  - name: build
//	    from: docker.io/library/rust:stretch
//	    steps:
//	      - phase: source
//	        copy: . /src
//	      - phase: compile
//	        workdir: /src
//	        run: cargo build --release --workspace
//	  - name: export
//	    from: scratch
//	    steps:
//	      - phase: export
//	        copy: build:/src/target/release/stacks-node /
package recipe
