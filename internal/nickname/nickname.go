// Package nickname generates URL-safe display handles of the form
// adjective_animal_number.
package nickname

import (
	"errors"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

var (
	DefaultAdjectives = []string{
		"clever", "jolly", "brave", "sly", "gentle", "swift", "calm", "wise",
		"happy", "mighty", "noble", "proud", "fierce", "kind", "quick", "bright",
		"bold", "eager", "fair", "grand", "keen", "lively", "merry", "nice",
		"polite", "quiet", "rapid", "smart", "strong", "tall", "witty", "zealous",
	}
	DefaultAnimals = []string{
		"panda", "fox", "raccoon", "koala", "lion", "tiger", "eagle", "wolf",
		"bear", "hawk", "dolphin", "shark", "whale", "zebra", "elephant", "giraffe",
		"monkey", "gorilla", "penguin", "turtle", "rabbit", "squirrel", "deer",
		"moose", "owl", "falcon", "swan", "duck", "goose", "horse", "unicorn",
	}
)

const (
	DefaultMinLen = 5
	DefaultMaxLen = 30

	randomTries = 10
)

var (
	ErrEmptyWordList = errors.New("nickname: adjective and animal lists must not be empty")
	ErrBadBounds     = errors.New("nickname: length bounds are not satisfiable")
)

var pattern = regexp.MustCompile(`^[a-z]+_[a-z]+_[0-9]+$`)

type Generator struct {
	Adjectives []string
	Animals    []string
	MinLen     int
	MaxLen     int
}

func New() *Generator {
	return &Generator{
		Adjectives: DefaultAdjectives,
		Animals:    DefaultAnimals,
		MinLen:     DefaultMinLen,
		MaxLen:     DefaultMaxLen,
	}
}

// Generate returns a nickname from the default word lists.
func Generate() string {
	n, err := New().Generate()
	if err != nil {
		// Defaults are always satisfiable.
		panic(err)
	}
	return n
}

func (g *Generator) Generate() (string, error) {
	adjectives, animals := g.Adjectives, g.Animals
	if len(adjectives) == 0 {
		adjectives = DefaultAdjectives
	}
	if len(animals) == 0 {
		animals = DefaultAnimals
	}
	if len(adjectives) == 0 || len(animals) == 0 {
		return "", ErrEmptyWordList
	}

	minLen, maxLen := g.MinLen, g.MaxLen
	if minLen <= 0 {
		minLen = DefaultMinLen
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if maxLen < 8 || minLen > maxLen {
		return "", ErrBadBounds
	}

	for i := 0; i < randomTries; i++ {
		n := join(pick(adjectives), pick(animals), strconv.Itoa(rand.IntN(9999)+1))
		if len(n) >= minLen && len(n) <= maxLen {
			return n, nil
		}
	}

	// Random picks kept missing the bounds; shape one to fit.
	adj, animal := pick(adjectives), pick(animals)
	budget := maxLen - 3
	if len(adj) > budget/2 {
		adj = adj[:max(2, budget/2)]
	}
	if len(adj)+len(animal) > budget {
		animal = animal[:budget-len(adj)]
	}

	digits := min(4, maxLen-len(adj)-len(animal)-2)
	if short := minLen - (len(adj) + len(animal) + 2 + digits); short > 0 {
		digits += short
	}
	return join(adj, animal, randomDigits(digits)), nil
}

// Valid reports whether s looks like a generated nickname.
func Valid(s string) bool {
	if !pattern.MatchString(s) {
		return false
	}
	parts := strings.Split(s, "_")
	return len(parts) == 3 && len(parts[0]) >= 2 && len(parts[1]) >= 2
}

func pick(words []string) string {
	return strings.ToLower(words[rand.IntN(len(words))])
}

func join(adj, animal, number string) string {
	return adj + "_" + animal + "_" + number
}

func randomDigits(n int) string {
	var b strings.Builder
	b.Grow(n)
	b.WriteByte(byte('1' + rand.IntN(9)))
	for i := 1; i < n; i++ {
		b.WriteByte(byte('0' + rand.IntN(10)))
	}
	return b.String()
}
