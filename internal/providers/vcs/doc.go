// Package vcs resolves application versions against git remotes.
//
// Everything is built on the git CLI (git -C <dir> ...): cloning and
// updating per-app repositories, listing version tags in numeric order,
// checking out a tag with a detached HEAD, and collecting the commit
// messages between the current checkout and a target tag. Operations on
// the same repository serialize through a per-path lock, so a version
// refresh can never race a checkout.
package vcs
