// Package blog declares the demo blog models: authors write posts, readers
// comment on posts. Deleting an author removes their posts, and deleting a
// post removes its comments.
package blog

import "github.com/jacentio/lattice/store"

// Model names.
const (
	Author  = "Author"
	Post    = "Post"
	Comment = "Comment"
)

// Models returns the blog model declarations, parents first.
func Models() []store.Model {
	return []store.Model{
		{
			Name:  Author,
			Table: "blog_author",
			Fields: []store.Field{
				{Name: "username", Type: store.String, Indexed: true, MaxLength: 150},
				{Name: "display_name", Type: store.String, Nullable: true, MaxLength: 200},
				{Name: "joined_at", Type: store.Timestamp, AutoNowAdd: true},
			},
		},
		{
			Name:  Post,
			Table: "blog_post",
			Fields: []store.Field{
				{Name: "title", Type: store.String, Searchable: true, MaxLength: 200},
				{Name: "slug", Type: store.String, Indexed: true, MaxLength: 200},
				{Name: "body", Type: store.String, Searchable: true},
				{
					Name:          "author_pk",
					Type:          store.Reference,
					Ref:           Author,
					Indexed:       true,
					RequireParent: true,
					OnDelete:      store.Cascade,
				},
				{Name: "published", Type: store.Boolean, Indexed: true, Default: false},
				{Name: "tags", Type: store.List, Nullable: true},
				{Name: "view_count", Type: store.Integer, Default: 0},
				{Name: "created_at", Type: store.Timestamp, AutoNowAdd: true},
				{Name: "updated_at", Type: store.Timestamp, AutoNow: true},
			},
			Search: store.SearchOptions{Enabled: true},
		},
		{
			Name:  Comment,
			Table: "blog_comment",
			Fields: []store.Field{
				{
					Name:          "post_pk",
					Type:          store.Reference,
					Ref:           Post,
					Indexed:       true,
					RequireParent: true,
					OnDelete:      store.Cascade,
				},
				{Name: "author_name", Type: store.String, MaxLength: 100},
				{Name: "body", Type: store.String},
				{Name: "approved", Type: store.Boolean, Default: true},
				{Name: "created_at", Type: store.Timestamp, AutoNowAdd: true},
			},
		},
	}
}

// Registry returns a registry holding the blog models.
func Registry() *store.Registry {
	return store.NewRegistry().MustRegister(Models()...)
}
