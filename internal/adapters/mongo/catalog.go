package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cinetick/movie-bookings/internal/domain"
	"github.com/cinetick/movie-bookings/internal/observability"
)

// Catalog stores showing metadata: what plays where, when, at what
// price, and the fixed seat layout. Seat availability is never written
// here; it is derived from the booking store on every read.
type Catalog struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalog(db *mongo.Database, logger observability.Logger) *Catalog {
	return &Catalog{
		coll:   db.Collection("showings"),
		logger: logger,
	}
}

type ShowingDoc struct {
	ID         uuid.UUID `bson:"_id" json:"id"`
	MovieTitle string    `bson:"movie_title" json:"movie_title"`
	Theater    string    `bson:"theater" json:"theater"`
	Screen     string    `bson:"screen" json:"screen"`
	StartsAt   time.Time `bson:"starts_at" json:"starts_at"`
	SeatPrice  float64   `bson:"seat_price" json:"seat_price"`
	Seats      []SeatDoc `bson:"seats" json:"seats"`
	CreatedAt  time.Time `bson:"created_at" json:"-"`
	UpdatedAt  time.Time `bson:"updated_at" json:"-"`
}

type SeatDoc struct {
	Number string `bson:"number" json:"number"`
	Row    string `bson:"row" json:"row"`
}

// SeatNumbers enumerates the showing's bookable seats in layout order.
func (d ShowingDoc) SeatNumbers() []string {
	out := make([]string, len(d.Seats))
	for i, s := range d.Seats {
		out[i] = s.Number
	}
	return out
}

func (c *Catalog) GetShowing(ctx context.Context, id uuid.UUID) (*ShowingDoc, error) {
	var doc ShowingDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get showing", err)
		return nil, err
	}
	return &doc, nil
}

// ShowingFilter narrows a listing. Empty fields match everything.
type ShowingFilter struct {
	MovieTitle string
	Theater    string
}

// ListShowings returns showings matching the filter, earliest first.
func (c *Catalog) ListShowings(ctx context.Context, filter ShowingFilter) ([]ShowingDoc, error) {
	query := bson.M{}
	if filter.MovieTitle != "" {
		query["movie_title"] = filter.MovieTitle
	}
	if filter.Theater != "" {
		query["theater"] = filter.Theater
	}

	cursor, err := c.coll.Find(ctx, query, options.Find().SetSort(bson.M{"starts_at": 1}))
	if err != nil {
		c.logger.Error("failed to list showings", err)
		return nil, err
	}
	docs := []ShowingDoc{}
	if err := cursor.All(ctx, &docs); err != nil {
		c.logger.Error("failed to decode showings", err)
		return nil, err
	}
	return docs, nil
}

func (c *Catalog) CreateShowing(ctx context.Context, doc ShowingDoc) error {
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		c.logger.Error("failed to create showing", err)
		return err
	}
	return nil
}
