// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import "github.com/google/uuid"

// NewID returns a unique id suitable for server-originated stanzas and for
// correlating requests with their answers.
func NewID() string {
	return uuid.NewString()
}
