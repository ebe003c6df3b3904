package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Chat struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name           string             `bson:"name" json:"name"`
	TokenName      string             `bson:"tokenName" json:"tokenName"`
	TokenMint      string             `bson:"tokenMint" json:"tokenMint"`
	TokenSymbol    string             `bson:"tokenSymbol" json:"tokenSymbol"`
	CreatorWallet  string             `bson:"creatorWallet" json:"creatorWallet"`
	RequiredAmount *float64           `bson:"requiredAmount,omitempty" json:"requiredAmount,omitempty"`
	Members        []string           `bson:"members" json:"members"`
	MessageCount   int64              `bson:"messageCount" json:"messageCount"`
	CreatedAt      time.Time          `bson:"createdAt" json:"createdAt"`
	LastActivity   time.Time          `bson:"lastActivity" json:"lastActivity"`
	IsActive       bool               `bson:"isActive" json:"isActive"`
}

// ChatName is the display name given to a new chat for a token.
func ChatName(tokenName string) string { return tokenName + " Community" }

// Gate returns the chat's access gate. The stored amount never leaks past here.
func (c *Chat) Gate() Gate { return GateFor(c.RequiredAmount) }

// Gate is either Ungated or Gated.
type Gate interface {
	isGate()
}

type Ungated struct{}

type Gated struct {
	RequiredAmount float64
}

func (Ungated) isGate() {}
func (Gated) isGate()   {}

// GateFor treats a missing or non-positive threshold as ungated.
func GateFor(amount *float64) Gate {
	if amount == nil || !(*amount > 0) {
		return Ungated{}
	}
	return Gated{RequiredAmount: *amount}
}

// Required is the threshold a gate demands, zero for Ungated.
func Required(g Gate) float64 {
	if gg, ok := g.(Gated); ok {
		return gg.RequiredAmount
	}
	return 0
}
