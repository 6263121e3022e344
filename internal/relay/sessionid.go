package relay

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Session IDs double as room IDs, so they are meant to be read aloud.
// Four words are drawn from four distinct pools, e.g. "sleepy-otter-ramen-comet".
var wordPools = [][]string{
	{
		"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
		"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
		"silent", "bouncy", "fuzzy", "plucky", "merry", "peppy",
	},
	{
		"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
		"duckling", "fawn", "lamb", "raccoon", "beaver", "seahorse", "starfish", "dolphin", "narwhal",
		"penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "canary",
	},
	{
		"pancake", "waffle", "sushi", "ramen", "curry", "taco", "burrito", "biryani", "paella", "risotto",
		"lasagna", "pizza", "dumpling", "noodle", "omelette", "quiche", "kebab", "fondue", "pierogi",
		"gnocchi", "falafel", "samosa", "poutine", "dimsum",
	},
	{
		"sunbeam", "stardust", "pepper", "muffin", "bubble", "sprout", "glimmer", "whisker", "echo", "jelly",
		"marble", "maple", "cocoa", "hazel", "breeze", "meadow", "willow", "ember", "cinnamon", "poppy",
		"pixel", "biscuit", "cupcake", "nugget", "toffee", "sprinkle",
	},
	{
		"dragon", "unicorn", "griffin", "phoenix", "fairy", "gnome", "sprite", "pixie", "mermaid",
		"lantern", "puddle", "pebble", "cottage", "rocket", "comet", "orbit", "nebula", "canyon", "ridge",
	},
	{
		"alice", "charlie", "daisy", "ella", "finn", "grace", "henry", "isla", "kai", "luna",
		"mia", "noah", "olivia", "quinn", "rachel", "tina", "victor", "winnie", "yara", "zoe",
	},
}

const sessionIDWords = 4

// newSessionID returns a word-based ID for which taken reports false.
func newSessionID(taken func(string) bool) string {
	for {
		order := permutation(len(wordPools))
		words := make([]string, sessionIDWords)
		for i := range words {
			pool := wordPools[order[i]]
			words[i] = pool[randomIndex(len(pool))]
		}
		id := strings.Join(words, "-")
		if !taken(id) {
			return id
		}
	}
}

// permutation is a Fisher-Yates shuffle of [0, n) using crypto/rand.
func permutation(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := randomIndex(i + 1)
		p[i], p[j] = p[j], p[i]
	}
	return p
}

func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("relay: crypto/rand failed: " + err.Error())
	}
	return int(n.Int64())
}
