package game

import "cardtable/pkg/types"

var (
	ranks = []string{"6", "7", "8", "9", "10", "J", "Q", "K", "A"}
	suits = []string{"hearts", "diamonds", "clubs", "spades"}
)

// DeckSize is the number of cards in a fresh deck.
const DeckSize = 36

// NewDeck returns the 36-card deck in rank-major order. It is not shuffled.
func NewDeck() []types.Card {
	deck := make([]types.Card, 0, DeckSize)
	for _, rank := range ranks {
		for _, suit := range suits {
			deck = append(deck, types.Card{Rank: rank, Suit: suit})
		}
	}
	return deck
}
