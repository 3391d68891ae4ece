// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package mem

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// DetectCeiling returns the effective memory limit of
// this process: the cgroup2 memory.max of its cgroup
// when one is set, otherwise MemTotal from
// /proc/meminfo. Zero means undetectable.
func DetectCeiling() int64 {
	if limit := cgroupLimit(); limit > 0 {
		return limit
	}
	return memTotal()
}

// cgroupLimit walks /proc/self/cgroup to the process's
// cgroup2 directory and reads memory.max. A limit of
// "max" (unlimited) yields zero.
func cgroupLimit() int64 {
	self, err := os.ReadFile("/proc/self/cgroup")
	if err != nil || len(self) < 3 || self[0] != '0' || self[1] != ':' || self[2] != ':' {
		return 0
	}
	rel := string(bytes.TrimSpace(self[3:]))
	text, err := os.ReadFile(filepath.Join("/sys/fs/cgroup", rel, "memory.max"))
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(string(bytes.TrimSpace(text)), 10, 64)
	if err != nil {
		return 0 // "max"
	}
	return v
}

func memTotal() int64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()
	var kb int64
	for {
		n, err := fmt.Fscanf(f, "MemTotal: %d kB\n", &kb)
		if err != nil {
			return 0
		}
		if n > 0 {
			return kb * 1024
		}
	}
}

// RSS returns the peak resident set size in bytes.
func RSS() int64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return ru.Maxrss * 1024 // reported in KiB on Linux
}
