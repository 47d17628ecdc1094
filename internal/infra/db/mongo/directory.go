package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainlistings "exodrive/internal/domain/listings"
	domainuser "exodrive/internal/domain/user"
)

// UserDirectory reads the identity service's users collection.
type UserDirectory struct {
	col *mongo.Collection
}

func NewUserDirectory(db *mongo.Database) *UserDirectory {
	return &UserDirectory{col: db.Collection("users")}
}

type userDocument struct {
	ID    primitive.ObjectID `bson:"_id"`
	Name  string             `bson:"name"`
	Email string             `bson:"email"`
}

func (d userDocument) toDomain() *domainuser.User {
	return &domainuser.User{ID: domainuser.ID(d.ID.Hex()), Name: d.Name, Email: d.Email}
}

var userProjection = bson.M{"name": 1, "email": 1}

func (r *UserDirectory) ByID(ctx context.Context, id domainuser.ID) (*domainuser.User, error) {
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return nil, domainuser.ErrNotFound
	}
	var doc userDocument
	opts := options.FindOne().SetProjection(userProjection)
	if err := r.col.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainuser.ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *UserDirectory) ByIDs(ctx context.Context, ids []domainuser.ID) (map[domainuser.ID]*domainuser.User, error) {
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, string(id))
	}
	oids := objectIDs(raw)
	out := make(map[domainuser.ID]*domainuser.User, len(oids))
	if len(oids) == 0 {
		return out, nil
	}
	cur, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": oids}}, options.Find().SetProjection(userProjection))
	if err != nil {
		return nil, err
	}
	var docs []userDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, d := range docs {
		u := d.toDomain()
		out[u.ID] = u
	}
	return out, nil
}

// ListingDirectory reads the listings collection owned by the catalogue.
type ListingDirectory struct {
	col *mongo.Collection
}

func NewListingDirectory(db *mongo.Database) *ListingDirectory {
	return &ListingDirectory{col: db.Collection("listings")}
}

type listingDocument struct {
	ID     primitive.ObjectID `bson:"_id"`
	User   primitive.ObjectID `bson:"user"`
	Title  string             `bson:"title"`
	Brand  string             `bson:"brand"`
	Model  string             `bson:"model"`
	Images []string           `bson:"images"`
}

func (d listingDocument) toDomain() *domainlistings.Listing {
	owner := ""
	if !d.User.IsZero() {
		owner = d.User.Hex()
	}
	return &domainlistings.Listing{
		ID:     domainlistings.ListingID(d.ID.Hex()),
		Owner:  owner,
		Title:  d.Title,
		Brand:  d.Brand,
		Model:  d.Model,
		Images: d.Images,
	}
}

var listingProjection = bson.M{"user": 1, "title": 1, "brand": 1, "model": 1, "images": 1}

func (r *ListingDirectory) ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error) {
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return nil, domainlistings.ErrNotFound
	}
	var doc listingDocument
	opts := options.FindOne().SetProjection(listingProjection)
	if err := r.col.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainlistings.ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *ListingDirectory) ByIDs(ctx context.Context, ids []domainlistings.ListingID) (map[domainlistings.ListingID]*domainlistings.Listing, error) {
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, string(id))
	}
	oids := objectIDs(raw)
	out := make(map[domainlistings.ListingID]*domainlistings.Listing, len(oids))
	if len(oids) == 0 {
		return out, nil
	}
	cur, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": oids}}, options.Find().SetProjection(listingProjection))
	if err != nil {
		return nil, err
	}
	var docs []listingDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, d := range docs {
		l := d.toDomain()
		out[l.ID] = l
	}
	return out, nil
}

var _ domainuser.Repository = (*UserDirectory)(nil)
var _ domainlistings.Repository = (*ListingDirectory)(nil)
