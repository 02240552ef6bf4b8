package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/p4-jakarta/portal-api/internal/models"
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
)

type articleRepository interface {
	List(ctx context.Context, filter models.ArticleFilter) ([]models.Article, int, error)
	FindByID(ctx context.Context, id string) (*models.Article, error)
	FindBySlug(ctx context.Context, slug string) (*models.Article, error)
	Create(ctx context.Context, article *models.Article) error
	Update(ctx context.Context, article *models.Article) error
	Delete(ctx context.Context, id string) error
}

// CreateArticleRequest is the admin payload for publishing content.
type CreateArticleRequest struct {
	Title   string `json:"title" validate:"required"`
	Body    string `json:"body" validate:"required"`
	Publish bool   `json:"publish"`
}

// UpdateArticleRequest carries partial article changes.
type UpdateArticleRequest struct {
	Title   *string `json:"title" validate:"omitempty,min=1"`
	Body    *string `json:"body" validate:"omitempty,min=1"`
	Publish *bool   `json:"publish"`
}

// ArticleService manages informational content on the public portal.
type ArticleService struct {
	repo      articleRepository
	cache     *CacheService
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewArticleService constructs an ArticleService.
func NewArticleService(repo articleRepository, cache *CacheService, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *ArticleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &ArticleService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// ListPublished returns published articles for the public portal, cached.
func (s *ArticleService) ListPublished(ctx context.Context, page, pageSize int) ([]models.Article, *models.Pagination, error) {
	key := fmt.Sprintf("%s:list:%d:%d", CacheKeyArticle, page, pageSize)
	var cached struct {
		Articles   []models.Article  `json:"articles"`
		Pagination models.Pagination `json:"pagination"`
	}
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached.Articles, &cached.Pagination, nil
	}

	filter := models.ArticleFilter{Status: models.ArticleStatusPublished, Page: page, PageSize: pageSize}
	articles, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list articles")
	}
	pagination := paginationFor(page, pageSize, total)

	cached.Articles = articles
	cached.Pagination = *pagination
	_ = s.cache.Set(ctx, key, cached, s.cacheTTL)
	return articles, pagination, nil
}

// List returns all articles for administrators.
func (s *ArticleService) List(ctx context.Context, filter models.ArticleFilter) ([]models.Article, *models.Pagination, error) {
	articles, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list articles")
	}
	return articles, paginationFor(filter.Page, filter.PageSize, total), nil
}

// GetBySlug returns one published article.
func (s *ArticleService) GetBySlug(ctx context.Context, slug string) (*models.Article, error) {
	key := fmt.Sprintf("%s:slug:%s", CacheKeyArticle, slug)
	var cached models.Article
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	article, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "article not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load article")
	}
	_ = s.cache.Set(ctx, key, article, s.cacheTTL)
	return article, nil
}

// Create stores a new article authored by the given admin.
func (s *ArticleService) Create(ctx context.Context, authorID string, req CreateArticleRequest) (*models.Article, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid article payload")
	}

	article := &models.Article{
		Title:    req.Title,
		Slug:     slugify(req.Title),
		Body:     req.Body,
		Status:   models.ArticleStatusDraft,
		AuthorID: authorID,
	}
	if req.Publish {
		now := time.Now().UTC()
		article.Status = models.ArticleStatusPublished
		article.PublishedAt = &now
	}

	if err := s.repo.Create(ctx, article); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create article")
	}

	_ = s.cache.Invalidate(ctx, CachePatternArticle)
	return article, nil
}

// Update applies partial changes to an article.
func (s *ArticleService) Update(ctx context.Context, id string, req UpdateArticleRequest) (*models.Article, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid article payload")
	}

	article, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "article not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load article")
	}

	if req.Title != nil {
		article.Title = *req.Title
		article.Slug = slugify(*req.Title)
	}
	if req.Body != nil {
		article.Body = *req.Body
	}
	if req.Publish != nil {
		if *req.Publish && article.Status != models.ArticleStatusPublished {
			now := time.Now().UTC()
			article.Status = models.ArticleStatusPublished
			article.PublishedAt = &now
		} else if !*req.Publish {
			article.Status = models.ArticleStatusDraft
			article.PublishedAt = nil
		}
	}

	if err := s.repo.Update(ctx, article); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update article")
	}

	_ = s.cache.Invalidate(ctx, CachePatternArticle)
	return article, nil
}

// Delete removes an article.
func (s *ArticleService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "article not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load article")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete article")
	}
	_ = s.cache.Invalidate(ctx, CachePatternArticle)
	return nil
}

func paginationFor(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = slugInvalid.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = fmt.Sprintf("article-%d", time.Now().Unix())
	}
	return slug
}
