// Package mongo stores users, roles, customers and the lookup history in
// MongoDB using the collection and field names of the original deployment.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"consulta.cl/internal/audit"
	"consulta.cl/internal/auth"
	"consulta.cl/internal/customers"
)

const (
	collUsers     = "usuarios"
	collRoles     = "roles"
	collCustomers = "clientes"
	collLookups   = "historialConsultas"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to uri and pings the primary. database is used when the URI
// names none.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cs, err := parseDatabase(uri)
	if err != nil {
		return nil, err
	}
	if cs != "" {
		database = cs
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// New wraps an existing database handle.
func New(db *mongo.Database) *Store {
	return &Store{client: db.Client(), db: db}
}

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

// EnsureIndexes creates the unique indexes on clientes.rut and usuarios.correo.
// MongoDB treats re-creating an identical index as a no-op.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := s.db.Collection(collCustomers).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "rut", Value: 1}},
		Options: unique,
	}); err != nil {
		return fmt.Errorf("index clientes.rut: %w", err)
	}
	if _, err := s.db.Collection(collUsers).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "correo", Value: 1}},
		Options: unique,
	}); err != nil {
		return fmt.Errorf("index usuarios.correo: %w", err)
	}
	return nil
}

func (s *Store) Users() auth.UserStore      { return &userStore{coll: s.db.Collection(collUsers)} }
func (s *Store) Roles() auth.RoleStore      { return &roleStore{coll: s.db.Collection(collRoles)} }
func (s *Store) Customers() customers.Store { return &customerStore{coll: s.db.Collection(collCustomers)} }
func (s *Store) Lookups() audit.Store       { return &lookupStore{coll: s.db.Collection(collLookups)} }

// User store ---------------------------------------------------------------

type userDoc struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	Username string             `bson:"nombreUsuario"`
	Email    string             `bson:"correo"`
	Password string             `bson:"contraseña"`
	RoleID   any                `bson:"rolId,omitempty"`
}

func (d userDoc) toUser() *auth.User {
	return &auth.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.Password,
		RoleID:       idString(d.RoleID),
	}
}

type userStore struct{ coll *mongo.Collection }

// FindByIdentifier tries the email first, then the username.
func (s *userStore) FindByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	u, err := s.findOne(ctx, bson.D{{Key: "correo", Value: identifier}})
	if !errors.Is(err, auth.ErrNotFound) {
		return u, err
	}
	return s.findOne(ctx, bson.D{{Key: "nombreUsuario", Value: identifier}})
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findOne(ctx, bson.D{{Key: "correo", Value: email}})
}

func (s *userStore) findOne(ctx context.Context, filter bson.D) (*auth.User, error) {
	var doc userDoc
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return doc.toUser(), nil
}

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	if strings.TrimSpace(u.Email) == "" {
		return auth.ErrInvalidInput
	}
	doc := userDoc{
		Username: u.Username,
		Email:    u.Email,
		Password: u.PasswordHash,
	}
	if u.RoleID != "" {
		doc.RoleID = objectIDOrString(u.RoleID)
	}
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return auth.ErrAlreadyExists
		}
		return err
	}
	u.ID = idString(res.InsertedID)
	return nil
}

// Role store ---------------------------------------------------------------

type roleDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Name        string             `bson:"nombreRol"`
	Permissions []string           `bson:"permisos"`
}

type roleStore struct{ coll *mongo.Collection }

func (s *roleStore) FindByID(ctx context.Context, id string) (*auth.Role, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: objectIDOrString(id)}})
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	return s.findOne(ctx, bson.D{{Key: "nombreRol", Value: name}})
}

func (s *roleStore) findOne(ctx context.Context, filter bson.D) (*auth.Role, error) {
	var doc roleDoc
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &auth.Role{ID: doc.ID.Hex(), Name: doc.Name, Permissions: doc.Permissions}, nil
}

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	perms := role.Permissions
	if perms == nil {
		perms = []string{}
	}
	res, err := s.coll.InsertOne(ctx, roleDoc{Name: role.Name, Permissions: perms})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return auth.ErrAlreadyExists
		}
		return err
	}
	role.ID = idString(res.InsertedID)
	return nil
}

// Customer store -----------------------------------------------------------

type customerStore struct{ coll *mongo.Collection }

func (s *customerStore) FindByRUT(ctx context.Context, rut string) (*customers.Customer, error) {
	var doc bson.M
	if err := s.coll.FindOne(ctx, bson.D{{Key: "rut", Value: rut}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, customers.ErrNotFound
		}
		return nil, err
	}
	c := &customers.Customer{
		ID:         idString(doc["_id"]),
		Attributes: make(map[string]any, len(doc)),
	}
	c.RUT, _ = doc["rut"].(string)
	for k, v := range doc {
		if k == "_id" || k == "rut" {
			continue
		}
		c.Attributes[k] = plain(v)
	}
	return c, nil
}

// Lookup history -----------------------------------------------------------

type lookupDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	UserID     any                `bson:"usuarioId"`
	CustomerID any                `bson:"clienteId"`
	At         time.Time          `bson:"fechaConsulta"`
	Type       string             `bson:"tipo"`
	Detail     string             `bson:"detalle"`
}

type lookupStore struct{ coll *mongo.Collection }

func (s *lookupStore) Append(ctx context.Context, entry *audit.Lookup) error {
	res, err := s.coll.InsertOne(ctx, lookupDoc{
		UserID:     objectIDOrString(entry.UserID),
		CustomerID: objectIDOrString(entry.CustomerID),
		At:         entry.At,
		Type:       entry.Type,
		Detail:     entry.Detail,
	})
	if err != nil {
		return err
	}
	entry.ID = idString(res.InsertedID)
	return nil
}

// helpers ------------------------------------------------------------------

// objectIDOrString keeps references as ObjectIDs when they look like one, so
// documents written here match the ones written by the seed tooling.
func objectIDOrString(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func idString(v any) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// plain converts driver-specific values into JSON-friendly ones.
func plain(v any) any {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case bson.M:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = plain(inner)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = plain(inner)
		}
		return out
	default:
		return v
	}
}

func parseDatabase(uri string) (string, error) {
	if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
		return "", errors.New("mongo: unsupported uri scheme")
	}
	rest := uri[strings.Index(uri, "://")+3:]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return "", nil
	}
	db := rest[slash+1:]
	if q := strings.IndexByte(db, '?'); q >= 0 {
		db = db[:q]
	}
	return db, nil
}
