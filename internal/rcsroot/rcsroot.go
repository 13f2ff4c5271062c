// Package rcsroot computes the repository path-stripping prefix from
// CVS/Root and CVS/Repository, per spec.md §6.
package rcsroot

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Prefix reads rootPath and repositoryPath (normally "CVS/Root" and
// "CVS/Repository" relative to the working directory) and computes the
// prefix that internal/logparser strips from every "RCS file:" path.
//
// Let p be the substring of Root after its last ':' (or the whole file
// if there is none), with any trailing slash removed; let r be the
// contents of Repository. The prefix is p + "/" + r + "/", unless r
// already starts with p, in which case the prefix is just r + "/".
func Prefix(rootPath, repositoryPath string) (string, error) {
	rootBytes, err := os.ReadFile(rootPath)
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", rootPath)
	}
	repoBytes, err := os.ReadFile(repositoryPath)
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", repositoryPath)
	}
	return prefixFrom(string(rootBytes), string(repoBytes)), nil
}

func prefixFrom(root, repository string) string {
	root = strings.TrimSpace(root)
	repository = strings.TrimSpace(repository)

	p := root
	if i := strings.LastIndexByte(root, ':'); i >= 0 {
		p = root[i+1:]
	}
	p = strings.TrimSuffix(p, "/")

	if strings.HasPrefix(repository, p) {
		return repository + "/"
	}
	return p + "/" + repository + "/"
}
