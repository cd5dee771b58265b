// Package shield keeps app directories off the antivirus scan path on
// platforms where that matters. Only Windows Defender is wired; every
// other platform reports exclusions as already in place.
package shield
