// Provides platform-appropriate paths for stxbuild.
//
// Paths follow XDG conventions on Linux and platform-native conventions on
// macOS and Windows. The tool name "stxbuild" is used as the subdirectory
// under each base path.
package paths
