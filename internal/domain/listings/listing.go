package listings

import (
	"context"
	"errors"
)

var (
	ErrIDRequired = errors.New("listings: id is required")
	ErrNotFound   = errors.New("listings: not found")
)

type ListingID string

// Listing carries the subset of listing data the messaging core needs.
type Listing struct {
	ID     ListingID
	Owner  string
	Title  string
	Brand  string
	Model  string
	Images []string
}

// Summary is embedded in conversation payloads for display.
type Summary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Brand string `json:"brand"`
	Model string `json:"model"`
	Image string `json:"image,omitempty"`
}

func (l *Listing) Summary() Summary {
	if l == nil {
		return Summary{}
	}
	s := Summary{ID: string(l.ID), Title: l.Title, Brand: l.Brand, Model: l.Model}
	if len(l.Images) > 0 {
		s.Image = l.Images[0]
	}
	return s
}

// Repository is a read-only view over the listing catalogue.
type Repository interface {
	ByID(ctx context.Context, id ListingID) (*Listing, error)
	ByIDs(ctx context.Context, ids []ListingID) (map[ListingID]*Listing, error)
}
