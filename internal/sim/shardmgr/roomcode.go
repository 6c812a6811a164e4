package shardmgr

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
)

// Room codes avoid 0/O and 1/I so they survive being read aloud.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomRoomCode(length int) string {
	if length < 4 {
		length = 4
	}
	if length > 8 {
		length = 8
	}
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	v := binary.LittleEndian.Uint64(buf[:])
	b := make([]byte, length)
	for i := range b {
		b[i] = roomCodeAlphabet[v%uint64(len(roomCodeAlphabet))]
		v /= uint64(len(roomCodeAlphabet))
	}
	return string(b)
}

func normalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func randomSeed() int64 {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}
