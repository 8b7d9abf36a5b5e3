//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles every engine package.
func (Build) Engine() error {
	if _, err := executeCmd("go", withArgs("build", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}

// Builds the pakdump inspection tool into bin/.
func (Build) Tools() error {
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/pakdump", "./tools/pakdump"), withStream()); err != nil {
		return err
	}
	return nil
}
