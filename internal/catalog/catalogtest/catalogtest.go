// Package catalogtest provides a shared datamodel for tests.
package catalogtest

import (
	"testing"

	"github.com/hanpama/querygraph/internal/catalog"
)

// BlogSDL declares users with an optional profile, posts and comments.
// Comment.post restricts updates of the referenced post id; every other
// relation cascades.
const BlogSDL = `
enum Role { USER ADMIN }

type User @unique(fields: ["firstName", "lastName"]) {
  id: Int! @id
  email: String! @unique
  firstName: String!
  lastName: String!
  role: Role!
  posts: [Post!]!
  profile: Profile
}

type Profile {
  id: Int! @id
  bio: String
  userId: Int! @unique
  user: User! @relation(fields: ["userId"], references: ["id"])
}

type Post {
  id: Int! @id
  title: String!
  published: Boolean!
  authorId: Int
  author: User @relation(fields: ["authorId"], references: ["id"])
  comments: [Comment!]!
}

type Comment {
  id: Int! @id
  body: String!
  postId: Int!
  post: Post! @relation(fields: ["postId"], references: ["id"], onUpdate: Restrict)
}
`

// Blog loads BlogSDL with the given relation mode.
func Blog(tb testing.TB, mode catalog.RelationMode) *catalog.Catalog {
	tb.Helper()
	c, err := catalog.LoadSDL("blog.graphql", BlogSDL)
	if err != nil {
		tb.Fatalf("load blog catalog: %v", err)
	}
	return c.SetRelationMode(mode)
}

// TagSDL declares a model whose unique keys are an enum and a date-time.
const TagSDL = `
enum Color { RED GREEN }

type Tag {
  id: Int! @id
  color: Color! @unique
  at: DateTime! @unique
  label: String!
}
`

// Tags loads TagSDL with foreign-key relation mode.
func Tags(tb testing.TB) *catalog.Catalog {
	tb.Helper()
	c, err := catalog.LoadSDL("tags.graphql", TagSDL)
	if err != nil {
		tb.Fatalf("load tag catalog: %v", err)
	}
	return c.SetRelationMode(catalog.RelationModeForeignKeys)
}
