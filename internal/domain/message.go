package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const MaxContentLength = 1000

type Reaction struct {
	Emoji   string   `bson:"emoji" json:"emoji"`
	Wallets []string `bson:"wallets" json:"wallets"`
}

type Message struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ChatID       primitive.ObjectID `bson:"chatId" json:"chatId"`
	Content      string             `bson:"content" json:"content"`
	SenderWallet string             `bson:"senderWallet" json:"senderWallet"`
	Timestamp    time.Time          `bson:"timestamp" json:"timestamp"`
	Edited       bool               `bson:"edited" json:"edited"`
	Reactions    []Reaction         `bson:"reactions" json:"reactions"`
}

type TokenImage struct {
	MintAddress string    `bson:"mintAddress" json:"mintAddress"`
	ImageURL    *string   `bson:"imageUrl" json:"imageUrl"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
}

// TokenMetadata is what the metadata oracle knows about a mint.
type TokenMetadata struct {
	Mint     string  `json:"mint"`
	Name     string  `json:"name"`
	Symbol   string  `json:"symbol"`
	ImageURL *string `json:"imageUrl"`
}
