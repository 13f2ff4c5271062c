package rcsroot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixFromStripsHostAndColon(t *testing.T) {
	got := prefixFrom(":pserver:anon@cvs.example.com:/cvsroot", "myproj")
	assert.Equal(t, "/cvsroot/myproj/", got)
}

func TestPrefixFromLocalRootNoColon(t *testing.T) {
	got := prefixFrom("/home/cvsroot", "myproj")
	assert.Equal(t, "/home/cvsroot/myproj/", got)
}

func TestPrefixFromRepositoryAlreadyPrefixed(t *testing.T) {
	got := prefixFrom("/home/cvsroot", "/home/cvsroot/myproj")
	assert.Equal(t, "/home/cvsroot/myproj/", got)
}

func TestPrefixFromTrimsTrailingSlashOnRoot(t *testing.T) {
	got := prefixFrom("/home/cvsroot/", "myproj")
	assert.Equal(t, "/home/cvsroot/myproj/", got)
}

func TestPrefixReadsFiles(t *testing.T) {
	dir := t.TempDir()
	rootPath := filepath.Join(dir, "Root")
	repoPath := filepath.Join(dir, "Repository")
	require.NoError(t, os.WriteFile(rootPath, []byte(":ext:cvs.example.com:/cvsroot\n"), 0644))
	require.NoError(t, os.WriteFile(repoPath, []byte("myproj\n"), 0644))

	got, err := Prefix(rootPath, repoPath)
	require.NoError(t, err)
	assert.Equal(t, "/cvsroot/myproj/", got)
}

func TestPrefixMissingRootIsError(t *testing.T) {
	dir := t.TempDir()
	_, err := Prefix(filepath.Join(dir, "Root"), filepath.Join(dir, "Repository"))
	assert.Error(t, err)
}
