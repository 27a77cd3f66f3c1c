// Package seed populates the blog schema with generated fixture data.
package seed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// Options controls how much data is generated.
type Options struct {
	Authors  int
	Articles int
	Comments int

	// Truncate empties the blog tables before inserting.
	Truncate bool

	// Seed fixes the random source for reproducible data sets.
	Seed int64
}

// Summary reports how many rows were written.
type Summary struct {
	Authors  int
	Articles int
	Comments int
}

var topics = []string{
	"Technology", "Programming", "Web Development", "Data Science",
	"Machine Learning", "DevOps", "Cloud Computing", "Security",
	"Database Design", "API Development", "Software Architecture",
	"Testing", "Open Source", "Career", "Tutorial",
}

var titlePatterns = []string{
	"Getting Started with %s",
	"Advanced %s Techniques",
	"%s Best Practices",
	"Introduction to %s",
	"%s Tutorial: A Complete Guide",
	"Understanding %s",
	"%s Tips and Tricks",
	"Mastering %s",
	"%s Fundamentals",
	"Exploring %s",
}

var commentLines = []string{
	"Great article! Very helpful.",
	"Thanks for sharing this.",
	"I found this really useful.",
	"Excellent explanation!",
	"This helped me understand the concept better.",
	"Nice write-up!",
	"This is exactly what I was looking for!",
	"Well written and informative.",
	"I'll definitely try this approach.",
	"Thanks for the detailed explanation.",
	"This cleared up my confusion.",
	"Great examples in this article.",
}

var firstNames = []string{
	"alex", "casey", "drew", "elliot", "frankie", "harper", "jordan",
	"kendall", "logan", "morgan", "parker", "quinn", "riley", "sage",
	"taylor", "avery", "blake", "cameron", "dakota", "emerson",
}

var sentenceParts = []string{
	"The pipeline resolves each request against a named template.",
	"Parameters are bound as placeholders rather than spliced into text.",
	"Every stage receives the output of the one before it.",
	"Draft articles stay hidden until a publish date is set.",
	"Indexes keep the common list queries fast.",
	"Pagination uses a window count so totals come back with the page.",
	"Comments are moderated before they appear on the site.",
	"The schema keeps authors, articles, and comments in separate tables.",
}

// generator produces deterministic fixture rows from a seeded source.
type generator struct {
	rng *rand.Rand
}

func newGenerator(seed int64) *generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &generator{rng: rand.New(rand.NewSource(seed))}
}

func (g *generator) pick(list []string) string {
	return list[g.rng.Intn(len(list))]
}

func (g *generator) username(n int) string {
	return fmt.Sprintf("%s_%02d", g.pick(firstNames), n)
}

func (g *generator) paragraphs() string {
	count := 3 + g.rng.Intn(5)
	parts := make([]string, 0, count)
	for range count {
		a, b := g.pick(sentenceParts), g.pick(sentenceParts)
		parts = append(parts, a+" "+b)
	}
	return strings.Join(parts, "\n\n")
}

func (g *generator) pastTime(maxDays int) time.Time {
	days := g.rng.Intn(maxDays + 1)
	return time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
}

// Run generates and inserts fixture data. All inserts run in a single
// transaction so a partial load never leaves dangling references.
func Run(ctx context.Context, db *sql.DB, opts Options, log *slog.Logger) (Summary, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Authors <= 0 {
		return Summary{}, fmt.Errorf("at least one author is required")
	}

	gen := newGenerator(opts.Seed)
	builder := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("beginning seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if opts.Truncate {
		if _, err := tx.ExecContext(ctx, "TRUNCATE comments, articles, authors"); err != nil {
			return Summary{}, fmt.Errorf("truncating blog tables: %w", err)
		}
		log.Info("truncated blog tables")
	}

	authorIDs, err := insertAuthors(ctx, tx, builder, gen, opts.Authors)
	if err != nil {
		return Summary{}, err
	}

	articleIDs, err := insertArticles(ctx, tx, builder, gen, authorIDs, opts.Articles)
	if err != nil {
		return Summary{}, err
	}

	commentCount, err := insertComments(ctx, tx, builder, gen, articleIDs, opts.Comments)
	if err != nil {
		return Summary{}, err
	}

	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("committing seed transaction: %w", err)
	}

	summary := Summary{Authors: len(authorIDs), Articles: len(articleIDs), Comments: commentCount}
	log.Info("seed complete",
		"authors", summary.Authors,
		"articles", summary.Articles,
		"comments", summary.Comments)
	return summary, nil
}

func insertAuthors(ctx context.Context, tx *sql.Tx, builder sq.StatementBuilderType, gen *generator, count int) ([]string, error) {
	ids := make([]string, 0, count)
	insert := builder.Insert("authors").Columns("id", "username", "email", "created_at")

	for i := range count {
		id := uuid.NewString()
		username := gen.username(i)
		created := gen.pastTime(730)
		insert = insert.Values(id, username, username+"@example.com", created)
		ids = append(ids, id)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building author insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("inserting authors: %w", err)
	}
	return ids, nil
}

func insertArticles(ctx context.Context, tx *sql.Tx, builder sq.StatementBuilderType, gen *generator, authorIDs []string, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}

	ids := make([]string, 0, count)
	insert := builder.Insert("articles").
		Columns("id", "title", "content", "publish_date", "is_published", "author_id", "created_at", "updated_at")

	for range count {
		id := uuid.NewString()
		title := fmt.Sprintf(gen.pick(titlePatterns), gen.pick(topics))
		created := gen.pastTime(365)

		// Roughly 70% published, matching the live site's ratio.
		published := gen.rng.Float64() < 0.7
		var publishDate any
		if published {
			publishDate = created.Add(time.Duration(gen.rng.Intn(72)) * time.Hour)
		}

		insert = insert.Values(id, title, gen.paragraphs(), publishDate, published, gen.pick(authorIDs), created, created)
		ids = append(ids, id)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building article insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("inserting articles: %w", err)
	}
	return ids, nil
}

func insertComments(ctx context.Context, tx *sql.Tx, builder sq.StatementBuilderType, gen *generator, articleIDs []string, count int) (int, error) {
	if count <= 0 || len(articleIDs) == 0 {
		return 0, nil
	}

	insert := builder.Insert("comments").
		Columns("id", "article_id", "author_name", "author_email", "content", "comment_date", "created_at")

	for range count {
		name := gen.pick(firstNames)
		when := gen.pastTime(180)
		insert = insert.Values(uuid.NewString(), gen.pick(articleIDs), name, name+"@example.com", gen.pick(commentLines), when, when)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building comment insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("inserting comments: %w", err)
	}
	return count, nil
}
