// Package python provisions application runtimes and environments.
//
// Runtimes come from the python-build-standalone project: a pinned patch
// release per supported minor line is downloaded once into a shared cache
// and reused by every application that asks for that line. Each
// application then gets its repo checkout mirrored into a working tree, a
// private virtual environment created from the cached runtime, and its
// dependency spec installed with the venv's own pip.
package python
