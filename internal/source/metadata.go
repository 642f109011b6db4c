package source

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Placeholders used when the tree carries no version information.
const (
	NoVersion = "No Version Info"
	NoBranch  = "No Branch Info"
	NoCommit  = "No Commit Info"
)

// Version information passed to the compiler.
type Metadata struct {
	Version string // Release version, from a tag on HEAD or set explicitly.
	Branch  string // Short name of the checked-out branch.
	Commit  string // Full hash of HEAD.
}

// Returns metadata holding only placeholders.
func DefaultMetadata() Metadata {
	return Metadata{
		Version: NoVersion,
		Branch:  NoBranch,
		Commit:  NoCommit,
	}
}

// Returns the metadata as the environment variables read by the workspace
// build scripts.
func (m Metadata) Env() map[string]string {
	return map[string]string{
		"STACKS_NODE_VERSION": m.Version,
		"GIT_BRANCH":          m.Branch,
		"GIT_COMMIT":          m.Commit,
	}
}

// Reads version metadata from the git repository containing root.
//
// A tree that is not inside a repository, or a repository without commits,
// yields the placeholders. A detached HEAD keeps the branch placeholder. The
// version is the name of a tag pointing at HEAD, if any.
func ReadMetadata(root string) (Metadata, error) {
	meta := DefaultMetadata()

	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return meta, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrMetadata, err)
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return meta, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrMetadata, err)
	}

	meta.Commit = head.Hash().String()
	if head.Name().IsBranch() {
		meta.Branch = head.Name().Short()
	}

	tag, err := tagAt(repo, head.Hash())
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrMetadata, err)
	}
	if tag != "" {
		meta.Version = tag
	}

	return meta, nil
}

// Returns the name of a tag that resolves to hash, or "" when none does.
// Both lightweight and annotated tags are considered. When several tags
// match, the last one in lexical order wins.
func tagAt(repo *git.Repository, hash plumbing.Hash) (string, error) {
	tags, err := repo.Tags()
	if err != nil {
		return "", err
	}
	defer tags.Close()

	var found []string
	err = tags.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if obj, err := repo.TagObject(target); err == nil {
			target = obj.Target
		}
		if target == hash {
			found = append(found, ref.Name().Short())
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if len(found) == 0 {
		return "", nil
	}
	return slices.Max(found), nil
}
