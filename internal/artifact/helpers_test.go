package artifact

import (
	"archive/tar"
	"bytes"
	"io/fs"
	"testing"
)

// Binary names used across the tests.
var testSet = Set{"blockstack-core", "blockstack-cli", "clarity-cli", "stacks-node"}

type tarFile struct {
	name     string
	mode     int64
	body     string
	typeflag byte
	linkname string
}

// Returns a tar stream holding files. Entries without a type are regular
// files.
func tarOf(t *testing.T, files ...tarFile) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for _, f := range files {
		typeflag := f.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}

		hdr := &tar.Header{
			Typeflag: typeflag,
			Name:     f.name,
			Mode:     f.mode,
			Linkname: f.linkname,
		}
		if typeflag == tar.TypeReg {
			hdr.Size = int64(len(f.body))
		}

		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(f.body)); err != nil {
				t.Fatal(err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf
}

// Returns a tar stream holding an executable placeholder for each name in
// the test set plus any extra files.
func binariesTar(t *testing.T, extra ...tarFile) *bytes.Buffer {
	t.Helper()

	var files []tarFile
	for _, name := range testSet {
		files = append(files, tarFile{name: name, mode: 0o755, body: "#!/bin/sh\necho " + name + "\n"})
	}
	return tarOf(t, append(files, extra...)...)
}

// Strips digests and sizes so entries can be compared by name and mode.
func namesAndModes(entries []Entry) map[string]fs.FileMode {
	out := make(map[string]fs.FileMode, len(entries))
	for _, e := range entries {
		out[e.Name] = e.Mode
	}
	return out
}
