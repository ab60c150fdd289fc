// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package version carries the node's client version, exchanged during
// the transport registration handshake. Peers whose major version
// differs are refused with RefuseBadClientVersion.
package version

import "fmt"

// Semantic is a major.minor.patch client version. On the wire it is
// packed into the registration message's 32-bit client-version field.
type Semantic struct {
	Major uint8
	Minor uint8
	Patch uint8
}

// Current is the version this build reports in its Registration and
// prints from cnode version.
var Current = Semantic{Major: 1, Minor: 0, Patch: 0}

// String renders the version as "major.minor.patch".
func (s Semantic) String() string {
	return fmt.Sprintf("%d.%d.%d", s.Major, s.Minor, s.Patch)
}

// Compare returns -1, 0, or 1 as s orders before, equal to, or after o.
func (s Semantic) Compare(o Semantic) int {
	if s.Major != o.Major {
		if s.Major < o.Major {
			return -1
		}
		return 1
	}
	if s.Minor != o.Minor {
		if s.Minor < o.Minor {
			return -1
		}
		return 1
	}
	if s.Patch != o.Patch {
		if s.Patch < o.Patch {
			return -1
		}
		return 1
	}
	return 0
}

// Compatible reports whether a peer running o speaks this node's
// protocol: minor and patch revisions interoperate, majors do not.
func (s Semantic) Compatible(o Semantic) bool {
	return s.Major == o.Major
}

// Pack encodes the version into the registration wire field.
func (s Semantic) Pack() uint32 {
	return uint32(s.Major)<<16 | uint32(s.Minor)<<8 | uint32(s.Patch)
}

// Unpack decodes a registration wire field packed by Pack.
func Unpack(v uint32) Semantic {
	return Semantic{
		Major: uint8(v >> 16),
		Minor: uint8(v >> 8),
		Patch: uint8(v),
	}
}
