//go:build linux

package iouxx

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
)

// protocolDB is a process-wide, lazily built index over /etc/protocols,
// the same getprotoent-style source the C library's getprotobyname uses.
// Built once on first use; a read failure (missing file, permission
// denied, sandboxed environment) leaves the index empty rather than
// panicking or blocking program startup.
type protocolDB struct {
	once     sync.Once
	byName   map[string]int
	byNumber map[int]string
}

var defaultProtocolDB protocolDB

func (db *protocolDB) ensure() {
	db.once.Do(func() {
		db.byName = make(map[string]int)
		db.byNumber = make(map[int]string)

		f, err := os.Open("/etc/protocols")
		if err != nil {
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if i := strings.IndexByte(line, '#'); i >= 0 {
				line = line[:i]
			}
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			name := fields[0]
			number, err := strconv.Atoi(fields[1])
			if err != nil {
				continue
			}
			db.byName[name] = number
			if _, exists := db.byNumber[number]; !exists {
				db.byNumber[number] = name
			}
			for _, alias := range fields[2:] {
				if _, exists := db.byName[alias]; !exists {
					db.byName[alias] = number
				}
			}
		}
	})
}

// ProtocolByName looks up a protocol number by name (e.g. "tcp", "udp"),
// as /etc/protocols defines it. ok is false if the name is unknown or the
// database could not be loaded.
func ProtocolByName(name string) (number int, ok bool) {
	defaultProtocolDB.ensure()
	n, ok := defaultProtocolDB.byName[name]
	return n, ok
}

// ProtocolName looks up the canonical name for a protocol number. ok is
// false if the number is unknown or the database could not be loaded.
func ProtocolName(number int) (name string, ok bool) {
	defaultProtocolDB.ensure()
	n, ok := defaultProtocolDB.byNumber[number]
	return n, ok
}
