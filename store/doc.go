// Package store maps declared models onto DynamoDB tables: one table per
// model keyed by "pk", one global secondary index per indexed field.
//
// # Models
//
// Models are declared once at startup and registered in a [Registry]:
//
//	reg := store.NewRegistry().MustRegister(
//	    store.Model{Name: "Author", Table: "blog_author", Fields: []store.Field{
//	        {Name: "username", Type: store.String, Indexed: true},
//	    }},
//	    store.Model{Name: "Post", Table: "blog_post", Fields: []store.Field{
//	        {Name: "title", Type: store.String, Searchable: true},
//	        {Name: "author_pk", Type: store.Reference, Ref: "Author",
//	            Indexed: true, RequireParent: true, OnDelete: store.Cascade},
//	    }},
//	)
//
// References marked RequireParent are checked atomically with the insert.
// References marked Cascade are deleted with their target, children first.
//
// # Queries
//
// A [Query] is a conjunction of predicates. [PlanQuery] picks one access path:
// a direct get for an equality on the primary key, an index query for an
// equality on an indexed field, otherwise a scan. Predicates the path doesn't
// serve are applied client-side, so every path returns the same records.
//
//	posts, err := st.Find(ctx, "Post", store.Where(
//	    store.Eq("author_pk", authorID),
//	    store.Contains("title", "go"),
//	))
//
// # Tables
//
// [Tables] manages tables and their indexes. Every operation is
// idempotent and waits until the table is active, failing with
// [ErrProvisioningTimeout] after Config.ProvisionTimeout.
//
// # Errors
//
// Failures are classified against the package sentinels:
//
//   - [ErrValidation] - a value, record or query was rejected
//   - [ErrNotFound] - the record doesn't exist
//   - [ErrParentNotFound] - a required reference target doesn't exist
//   - [ErrConflict] - a conditional write lost, e.g. a duplicate primary key
//   - [ErrThrottled], [ErrUnavailable] - the store couldn't serve the call
//   - [ErrNotRouted] - the model belongs to another backend
//
// Use errors.Is to test them; the underlying SDK error stays reachable with errors.As.
package store
