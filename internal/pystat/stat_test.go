// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pystat_test

import (
	"fmt"
	"os/exec"
	"testing"
	"testing/quick"

	"github.com/datawire/pexcore/internal/pystat"
)

func TestStatModeString(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available to cross-check against stat.filemode()")
	}
	fn := func(m pystat.StatMode) bool {
		act := m.String()
		exp, _ := exec.Command("python3", "-c",
			fmt.Sprintf(`import stat; print(stat.filemode(%d), end="")`, m)).
			Output()
		return act == string(exp)
	}
	if err := quick.Check(fn, nil); err != nil {
		t.Error(err)
	}
}

func TestModeRoundTrip(t *testing.T) {
	for _, m := range []pystat.StatMode{
		pystat.ModeFmtRegular | 0o644,
		pystat.ModeFmtDir | 0o755,
		pystat.ModeFmtSymlink | 0o777,
	} {
		if got := pystat.ModeFromGo(m.ToGo()); got&pystat.ModeFmt != m&pystat.ModeFmt {
			t.Errorf("ModeFromGo(ToGo(%v)) = %v, want same ModeFmt bits", m, got)
		}
	}
}

func TestZIPExternalAttributesRoundTrip(t *testing.T) {
	ea := pystat.ZIPExternalAttributes{
		UNIX:  pystat.ModeFmtRegular | 0o755,
		MSDOS: pystat.DOSArchive,
	}
	got := pystat.ParseZIPExternalAttributes(ea.Raw())
	if got != ea {
		t.Errorf("round trip: got %+v, want %+v", got, ea)
	}
}
