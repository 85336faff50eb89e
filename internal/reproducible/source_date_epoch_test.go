// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package reproducible_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pexcore/internal/reproducible"
)

func TestNowIsStable(t *testing.T) {
	a := reproducible.Now()
	b := reproducible.Now()
	assert.Equal(t, a, b)
	require.False(t, a.IsZero())
}
