package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/kindred/internal/domain"
	"github.com/timmy/kindred/internal/index"
	"github.com/timmy/kindred/internal/logger"
	"github.com/timmy/kindred/internal/service"
)

// UserHandler serves users, their favorites and taste-similarity queries.
type UserHandler struct {
	users      *service.UserService
	favorites  *service.FavoriteService
	similarity *service.SimilarityService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users *service.UserService, favorites *service.FavoriteService, similarity *service.SimilarityService) *UserHandler {
	return &UserHandler{
		users:      users,
		favorites:  favorites,
		similarity: similarity,
	}
}

// UserListResponse represents the users list response.
type UserListResponse struct {
	Users []domain.User `json:"users"`
	Total int           `json:"total"`
}

// FavoritesResponse represents a user's favorite images.
type FavoritesResponse struct {
	UserID    int64                  `json:"user_id"`
	Favorites []domain.FavoriteImage `json:"favorites"`
}

// AddFavoriteRequest adds a favorite by image URL.
type AddFavoriteRequest struct {
	URL string `json:"url" binding:"required"`
}

// AddFavoriteResponse reports the favorited image and whether the edge is new.
type AddFavoriteResponse struct {
	Image   *domain.Image `json:"image"`
	Created bool          `json:"created"`
}

// SimilarResponse represents a similarity query result.
type SimilarResponse struct {
	UserID  int64                `json:"user_id"`
	Similar []domain.SimilarUser `json:"similar"`
}

// ListUsers handles GET /api/v1/users
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, UserListResponse{Users: users, Total: len(users)})
}

// ListFavorites handles GET /api/v1/users/:id/favorites
func (h *UserHandler) ListFavorites(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}

	favorites, err := h.favorites.ListFavorites(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, FavoritesResponse{UserID: userID, Favorites: favorites})
}

// AddFavorite handles POST /api/v1/users/:id/favorites.
// Adding an existing favorite is not an error and returns 200 instead of 201.
func (h *UserHandler) AddFavorite(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req AddFavoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid favorite request: user_id=%d, error=%v", userID, err)
		badRequest(c, err.Error())
		return
	}

	img, created, err := h.favorites.AddFavoriteByURL(ctx, userID, req.URL)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, AddFavoriteResponse{Image: img, Created: created})
}

// RemoveFavorite handles DELETE /api/v1/users/:id/favorites/:image_id
func (h *UserHandler) RemoveFavorite(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	imageID, ok := pathID(c, "image_id")
	if !ok {
		return
	}

	if err := h.favorites.RemoveFavorite(c.Request.Context(), userID, imageID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSimilar handles GET /api/v1/users/:id/similar?limit=&budget=
func (h *UserHandler) GetSimilar(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	if limit < 0 {
		badRequest(c, "limit must not be negative")
		return
	}
	budget, err := index.ParseBudget(c.Query("budget"))
	if err != nil {
		writeError(c, err)
		return
	}

	similar, err := h.similarity.GetSimilar(c.Request.Context(), userID, limit, budget)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SimilarResponse{UserID: userID, Similar: similar})
}
