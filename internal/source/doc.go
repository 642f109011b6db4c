// Package source reads the host-side source tree of a build.
//
// It archives the tree as a tar stream for copying into a build container,
// honoring a .dockerignore file at the tree root, and derives version
// metadata from the git repository the tree belongs to.
package source
