// Package artifact stages, publishes, and inspects the exported artifact set.
//
// An artifact set is a fixed list of executable file names. Files copied out
// of a build container are first written to a host-side [Staging] directory.
// Only once every name in the set is present and executable can the staging
// directory be published, either as a plain directory holding exactly those
// files or as a single-layer image built from an empty base. Publishing
// writes to a temporary sibling of the destination and renames it into place,
// so a failed run never leaves partial output behind.
//
// Example usage:
//
//	set, _ := artifact.NewSet("stacks-node", "clarity-cli")
//	stg, err := artifact.NewStaging(afero.NewOsFs(), os.TempDir(), set)
//	if err != nil {
//	    return err
//	}
//	defer stg.Remove()
//
//	// ... stg.Add(tarStream) for each copied file ...
//
//	if err := stg.Seal(); err != nil {
//	    return err
//	}
//	return stg.WriteDir("dist")
package artifact
