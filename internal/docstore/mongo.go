// internal/docstore/mongo.go
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/jason-s-yu/socialgraph/internal/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const usersCollection = "users"

var _ friends.Store = (*Store)(nil)

// Store is a MongoDB-backed user store. Each user is one document in the
// users collection and the relationship sets are arrays on that document,
// updated with $addToSet and $pull.
type Store struct {
	client *mongo.Client
	users  *mongo.Collection
}

// userDoc is the stored form of models.User. UIDs are kept as strings so the
// documents stay readable from the mongo shell.
type userDoc struct {
	ID             string    `bson:"_id"`
	Email          string    `bson:"email"`
	Password       string    `bson:"password"`
	Username       string    `bson:"username"`
	Name           string    `bson:"name"`
	MyFriends      []string  `bson:"myFriends"`
	FriendRequests []string  `bson:"friendRequests"`
	SentRequests   []string  `bson:"sentRequests"`
	CreatedAt      time.Time `bson:"createdAt"`
}

// Connect dials MongoDB, pings it, and ensures the users indexes exist.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, errors.New("missing MONGO_URI")
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := &Store{client: client, users: client.Database(database).Collection(usersCollection)}
	if err := s.ensureIndexes(cctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logrus.WithField("database", database).Info("connected to mongodb")
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// CreateUser inserts a user, assigning an ID if it has none.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Email = strings.ToLower(u.Email)

	_, err := s.users.InsertOne(ctx, toDoc(u))
	if mongo.IsDuplicateKeyError(err) {
		return models.ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"email": strings.ToLower(email)}, "email "+email)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"username": username}, "username "+username)
}

func (s *Store) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.findOne(ctx, bson.M{"_id": id.String()}, "user "+id.String())
}

func (s *Store) FindUsers(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	return s.find(ctx, bson.M{"_id": bson.M{"$in": keys}})
}

func (s *Store) ListAllUsers(ctx context.Context) ([]models.User, error) {
	return s.find(ctx, bson.M{})
}

func (s *Store) AddToSet(ctx context.Context, id uuid.UUID, field models.RelationField, value uuid.UUID) error {
	return s.update(ctx, id, bson.M{"$addToSet": bson.M{string(field): value.String()}})
}

func (s *Store) RemoveFromSet(ctx context.Context, id uuid.UUID, field models.RelationField, value uuid.UUID) error {
	return s.update(ctx, id, bson.M{"$pull": bson.M{string(field): value.String()}})
}

func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	res, err := s.users.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("user %s: %w", id, friends.ErrUserNotFound)
	}
	return nil
}

func (s *Store) update(ctx context.Context, id uuid.UUID, update bson.M) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id.String()}, update)
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("user %s: %w", id, friends.ErrUserNotFound)
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, filter bson.M, what string) (*models.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", what, friends.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", what, err)
	}
	return doc.toModel()
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]models.User, error) {
	cur, err := s.users.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}

	out := make([]models.User, 0, len(docs))
	for _, d := range docs {
		u, err := d.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, nil
}

func toDoc(u *models.User) userDoc {
	return userDoc{
		ID:             u.ID.String(),
		Email:          u.Email,
		Password:       u.Password,
		Username:       u.Username,
		Name:           u.Name,
		MyFriends:      idStrings(u.MyFriends),
		FriendRequests: idStrings(u.FriendRequests),
		SentRequests:   idStrings(u.SentRequests),
		CreatedAt:      u.CreatedAt,
	}
}

func (d userDoc) toModel() (*models.User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("user document %q: %w", d.ID, err)
	}
	u := &models.User{
		ID:        id,
		Email:     d.Email,
		Password:  d.Password,
		Username:  d.Username,
		Name:      d.Name,
		CreatedAt: d.CreatedAt,
	}
	if u.MyFriends, err = parseIDs(d.MyFriends); err != nil {
		return nil, fmt.Errorf("user %s myFriends: %w", id, err)
	}
	if u.FriendRequests, err = parseIDs(d.FriendRequests); err != nil {
		return nil, fmt.Errorf("user %s friendRequests: %w", id, err)
	}
	if u.SentRequests, err = parseIDs(d.SentRequests); err != nil {
		return nil, fmt.Errorf("user %s sentRequests: %w", id, err)
	}
	return u, nil
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
