//go:build mage

// Tools for building and maintaining udprec.
package main

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// fuzz targets and how long each is run by Fuzz.
var fuzzTargets = []string{"FuzzDecode", "FuzzEncode"}

const fuzzTime = "30s"

// Vets every package.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Builds the udprec binary into bin/.
func Build() error {
	mg.Deps(Vet)
	if _, err := exec.LookPath("go"); err != nil {
		return errors.Join(errors.New("go not available in $PATH"), err)
	}
	return sh.RunV("go", "build", "-o", filepath.Join("bin", "udprec"), "./cmd/udprec")
}

// Runs all tests.
// Tests are run with -race.
func Test() error {
	_, err := sh.Exec(nil, os.Stdout, os.Stderr, "go", "test", "./...", "-race", "-count=1")
	return err
}

// Runs each codec fuzz target for a short, fixed duration.
func Fuzz() error {
	for _, target := range fuzzTargets {
		if _, err := sh.Exec(nil, os.Stdout, os.Stderr, "go", "test", "-tags", "fuzz",
			"-run", "^$", "-fuzz", "^"+target+"$", "-fuzztime", fuzzTime, "./udprec/protocol"); err != nil {
			return err
		}
	}
	return nil
}

// Removes build output.
func Clean() error {
	return sh.Rm("bin")
}
