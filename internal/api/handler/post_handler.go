package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/post-scheduler/internal/api/domain"
	"github.com/cuongbtq/post-scheduler/internal/api/dto"
	"github.com/cuongbtq/post-scheduler/internal/api/model"
	"github.com/cuongbtq/post-scheduler/internal/api/storage"
)

// GetPost handles GET /api/v1/posts/:post_id
// Retrieves a scheduled post with its publishing outcome
func (h *PostHandler) GetPost(c *gin.Context) {
	postID := c.Param("post_id")

	h.logger.Debug("GetPost called",
		slog.String("path", c.Request.URL.Path),
		slog.String("post_id", postID),
	)

	if _, err := uuid.Parse(postID); err != nil {
		h.logger.Warn("Invalid post_id format", slog.String("post_id", postID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "post_id must be a valid UUID",
		})
		return
	}

	post, err := h.storage.GetPostByID(c.Request.Context(), postID)
	if err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Post not found",
			})
			return
		}
		h.logger.Error("Failed to get post", slog.String("post_id", postID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get post",
		})
		return
	}

	c.JSON(http.StatusOK, toPostDTO(post))
}

// ListPosts handles GET /api/v1/posts
// Lists posts in scheduled order with optional filtering and cursor pagination
func (h *PostHandler) ListPosts(c *gin.Context) {
	var req dto.ListPostsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Status != "" && !domain.IsValidPostStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "status must be one of pending, published, failed",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodePostCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	posts, err := h.storage.ListPosts(c.Request.Context(), storage.PostFilter{
		OwnerID:  req.OwnerID,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list posts", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list posts",
		})
		return
	}

	hasMore := len(posts) > req.PageSize
	if hasMore {
		posts = posts[:req.PageSize]
	}

	response := make([]dto.PostDTO, len(posts))
	for i := range posts {
		response[i] = toPostDTO(&posts[i])
	}

	var nextCursor string
	if hasMore {
		last := posts[len(posts)-1]
		nextCursor = EncodePostCursor(&storage.PostCursor{
			ScheduledTime: last.ScheduledTime,
			PostID:        last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListPostsResponse{
		Posts:      response,
		NextCursor: nextCursor,
	})
}

func toPostDTO(post *model.Post) dto.PostDTO {
	out := dto.PostDTO{
		ID:            post.ID,
		OwnerID:       post.OwnerID,
		Content:       post.Content,
		ScheduledTime: post.ScheduledTime.UTC().Format(time.RFC3339),
		Status:        post.Status,
		CreatedAt:     post.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     post.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if post.PublishedID != nil {
		out.PublishedID = *post.PublishedID
	}
	if post.ErrorMessage != nil {
		out.ErrorMessage = *post.ErrorMessage
	}
	return out
}
