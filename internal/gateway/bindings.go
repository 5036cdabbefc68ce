package gateway

import (
	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/errs"
	"github.com/hanpama/aegraph/internal/sdk"
)

// root binds a root field to the operation of its owner.
type root struct {
	kind    entity.Kind
	prepare func(e *sdk.Entities, args map[string]any) (sdk.Prepared, error)
}

func findAll(kind entity.Kind) root {
	return root{kind: kind, prepare: func(e *sdk.Entities, _ map[string]any) (sdk.Prepared, error) {
		return e.PrepareFindAll(), nil
	}}
}

func findByID(kind entity.Kind) root {
	return root{kind: kind, prepare: func(e *sdk.Entities, args map[string]any) (sdk.Prepared, error) {
		id, err := argID(args, "id")
		if err != nil {
			return sdk.Prepared{}, err
		}
		return e.PrepareFindByID(id)
	}}
}

func findByIDs(kind entity.Kind) root {
	return root{kind: kind, prepare: func(e *sdk.Entities, args map[string]any) (sdk.Prepared, error) {
		ids, err := argIDs(args, "ids")
		if err != nil {
			return sdk.Prepared{}, err
		}
		return e.PrepareFindByIDs(ids)
	}}
}

// findBy binds a filter over fields; each field is also the argument name.
func findBy(kind entity.Kind, fields ...string) root {
	return root{kind: kind, prepare: func(e *sdk.Entities, args map[string]any) (sdk.Prepared, error) {
		matches := make([]sdk.Match, len(fields))
		for i, f := range fields {
			matches[i] = sdk.Match{Field: f, Value: args[f]}
		}
		return e.PrepareFindBy(matches...)
	}}
}

func findOne(kind entity.Kind, field string) root {
	return root{kind: kind, prepare: func(e *sdk.Entities, args map[string]any) (sdk.Prepared, error) {
		return e.PrepareFindOne(field, args[field])
	}}
}

func create(kind entity.Kind) root {
	return root{kind: kind, prepare: func(e *sdk.Entities, args map[string]any) (sdk.Prepared, error) {
		fields, err := entityFields(kind, args, false)
		if err != nil {
			return sdk.Prepared{}, err
		}
		return e.PrepareCreate(fields)
	}}
}

func update(kind entity.Kind) root {
	return root{kind: kind, prepare: func(e *sdk.Entities, args map[string]any) (sdk.Prepared, error) {
		id, err := argID(args, "id")
		if err != nil {
			return sdk.Prepared{}, err
		}
		fields, err := entityFields(kind, args, true)
		if err != nil {
			return sdk.Prepared{}, err
		}
		return e.PrepareUpdate(id, fields)
	}}
}

func remove(kind entity.Kind) root {
	return root{kind: kind, prepare: func(e *sdk.Entities, args map[string]any) (sdk.Prepared, error) {
		id, err := argID(args, "id")
		if err != nil {
			return sdk.Prepared{}, err
		}
		return e.PrepareDelete(id)
	}}
}

var roots = map[string]root{
	"Query.getUsers":          findAll(entity.User),
	"Query.getUserById":       findByID(entity.User),
	"Query.getUsersByIds":     findByIDs(entity.User),
	"Query.getUserByUsername": findOne(entity.User, "username"),

	"Query.getPosts":                      findAll(entity.Post),
	"Query.getPostById":                   findByID(entity.Post),
	"Query.getPostsByIds":                 findByIDs(entity.Post),
	"Query.getPostsByUserId":              findBy(entity.Post, "userId"),
	"Query.getPostsByCategoryId":          findBy(entity.Post, "categoryId"),
	"Query.getPostsByUserIdAndCategoryId": findBy(entity.Post, "userId", "categoryId"),

	"Query.getCommentById":      findByID(entity.Comment),
	"Query.getCommentsByIds":    findByIDs(entity.Comment),
	"Query.getCommentsByPostId": findBy(entity.Comment, "postId"),
	"Query.getCommentsByUserId": findBy(entity.Comment, "userId"),

	"Query.getCategories":      findAll(entity.Category),
	"Query.getCategoryById":    findByID(entity.Category),
	"Query.getCategoriesByIds": findByIDs(entity.Category),
	"Query.getCategoryByName":  findOne(entity.Category, "name"),

	"Mutation.createUser": create(entity.User),
	"Mutation.updateUser": update(entity.User),
	"Mutation.deleteUser": remove(entity.User),

	"Mutation.createPost":     create(entity.Post),
	"Mutation.updatePost":     update(entity.Post),
	"Mutation.deletePostById": remove(entity.Post),

	"Mutation.createComment": create(entity.Comment),
	"Mutation.updateComment": update(entity.Comment),
	"Mutation.deleteComment": remove(entity.Comment),

	"Mutation.createCategory": create(entity.Category),
	"Mutation.updateCategory": update(entity.Category),
	"Mutation.deleteCategory": remove(entity.Category),
}

// relation binds an entity field to another kind through a foreign key.
// Forward relations follow a key of the parent; reverse relations list the
// target entities whose key points at the parent.
type relation struct {
	target  entity.Kind
	key     string
	reverse bool
}

var relations = map[string]relation{
	"Post.user":      {target: entity.User, key: "userId"},
	"Post.category":  {target: entity.Category, key: "categoryId"},
	"Post.comments":  {target: entity.Comment, key: "postId", reverse: true},
	"Comment.post":   {target: entity.Post, key: "postId"},
	"Comment.user":   {target: entity.User, key: "userId"},
	"User.posts":     {target: entity.Post, key: "userId", reverse: true},
	"User.comments":  {target: entity.Comment, key: "userId", reverse: true},
	"Category.posts": {target: entity.Post, key: "categoryId", reverse: true},
}

// isAsync marks root fields and relations as remote.
func isAsync(typeName, field string) bool {
	key := typeName + "." + field
	if _, ok := roots[key]; ok {
		return true
	}
	_, ok := relations[key]
	return ok
}

func argID(args map[string]any, name string) (int64, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, errs.Validation(name, "is required")
	}
	id, err := entity.ToInt64(v)
	if err != nil {
		return 0, errs.Validation(name, "invalid id %v", v)
	}
	if err := entity.CheckID(name, id); err != nil {
		return 0, err
	}
	return id, nil
}

func argIDs(args map[string]any, name string) ([]int64, error) {
	list, _ := args[name].([]any)
	ids := make([]int64, len(list))
	for i, v := range list {
		id, err := entity.ToInt64(v)
		if err != nil {
			return nil, errs.Validation(name, "invalid id %v", v)
		}
		if err := entity.CheckID(name, id); err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// entityFields picks the column arguments of kind. Updates skip arguments
// that were not given so the stored values are kept.
func entityFields(kind entity.Kind, args map[string]any, partial bool) (map[string]any, error) {
	t, err := entity.Lookup(kind)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(t.Columns))
	for _, c := range t.Columns {
		v, ok := args[c.Wire]
		if !ok || (partial && v == nil) {
			continue
		}
		if c.IsForeignKey() && v != nil {
			id, err := entity.ToInt64(v)
			if err != nil {
				return nil, errs.Validation(c.Wire, "invalid id %v", v)
			}
			v = id
		}
		fields[c.Wire] = v
	}
	return fields, nil
}
