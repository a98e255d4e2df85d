package roomid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

var pools = [][]string{animals, dishes, names, randomWords, adjectives, extras}

// Generate returns a random, memorable room id of four words drawn from
// four distinct word lists, e.g. "kitten-waffle-stardust-happy".
func Generate() string {
	order := make([]int, len(pools))
	for i := range order {
		order[i] = i
	}
	// partial Fisher-Yates: the first four entries pick the lists
	for i := 0; i < 4; i++ {
		j := i + randomIndex(len(order)-i)
		order[i], order[j] = order[j], order[i]
	}

	words := make([]string, 4)
	for i := range words {
		list := pools[order[i]]
		words[i] = list[randomIndex(len(list))]
	}
	return strings.Join(words, "-")
}

// Valid reports whether id is usable as a room id: non-empty, at most 64
// bytes, letters, digits, '-' and '_' only.
func Valid(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("roomid: read random: %v", err))
	}
	return int(n.Int64())
}
