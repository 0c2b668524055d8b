package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectIDIsStableForSamePath(t *testing.T) {
	a := projectID("/home/user/repo")
	b := projectID("/home/user/repo")
	assert.Equal(t, a, b)
}

func TestProjectIDDiffersForDifferentPaths(t *testing.T) {
	a := projectID("/home/user/repo-one")
	b := projectID("/home/user/repo-two")
	assert.NotEqual(t, a, b)
}

func TestSocketPathUnderSpecflowDir(t *testing.T) {
	got := socketPath("/home/user/repo")
	assert.Equal(t, "/home/user/repo/.specflow/control.sock", got)
}
