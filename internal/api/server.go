package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/dealflow/internal/auth"
	"github.com/dealflow/internal/models"
	"github.com/dealflow/internal/series"
)

type Server struct {
	db     *gorm.DB
	series *series.Manager
	router *gin.Engine
	log    zerolog.Logger
}

func NewServer(db *gorm.DB, seriesManager *series.Manager, logger zerolog.Logger) *Server {
	server := &Server{
		db:     db,
		series: seriesManager,
		router: gin.Default(),
		log:    logger.With().Str("component", "api").Logger(),
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	// Public routes
	s.router.POST("/api/v1/auth/login", s.login)
	s.router.POST("/api/v1/auth/register", s.register)

	// Protected routes (require authentication)
	api := s.router.Group("/api/v1")
	api.Use(auth.Middleware(s.db))

	recurring := api.Group("/series")
	{
		recurring.POST("", s.createSeries)
		recurring.GET("", s.listSeries)
		recurring.GET("/:id", s.getSeries)
		recurring.PUT("/:id", s.updateSeries)
		recurring.PUT("/:id/pause", s.pauseSeries)
		recurring.PUT("/:id/resume", s.resumeSeries)
		recurring.DELETE("/:id", s.deleteSeries)
		recurring.GET("/:id/upcoming", s.upcomingSeries)
	}
}

func (s *Server) Start(port int) error {
	return s.router.Run(fmt.Sprintf(":%d", port))
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) createSeries(c *gin.Context) {
	teamID, ok := auth.TeamID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing team context"})
		return
	}

	var in series.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.series.Create(teamID, &in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listSeries(c *gin.Context) {
	teamID, ok := auth.TeamID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing team context"})
		return
	}

	opts := series.ListOptions{
		Status: models.SeriesStatus(c.Query("status")),
	}
	if cursor := c.Query("cursor"); cursor != "" {
		if v, err := strconv.ParseUint(cursor, 10, 32); err == nil {
			opts.Cursor = uint(v)
		}
	}
	if size := c.Query("page_size"); size != "" {
		if v, err := strconv.Atoi(size); err == nil {
			opts.PageSize = v
		}
	}
	if merchant := c.Query("merchant_id"); merchant != "" {
		if v, err := strconv.ParseUint(merchant, 10, 32); err == nil {
			opts.MerchantID = uint(v)
		}
	}

	page, err := s.series.List(teamID, opts)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) getSeries(c *gin.Context) {
	teamID, ok := auth.TeamID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing team context"})
		return
	}

	found, err := s.series.Get(teamID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (s *Server) updateSeries(c *gin.Context) {
	teamID, ok := auth.TeamID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing team context"})
		return
	}

	var in series.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := s.series.Update(teamID, c.Param("id"), &in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) pauseSeries(c *gin.Context) {
	teamID, ok := auth.TeamID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing team context"})
		return
	}

	paused, err := s.series.Pause(teamID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, paused)
}

func (s *Server) resumeSeries(c *gin.Context) {
	teamID, ok := auth.TeamID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing team context"})
		return
	}

	resumed, err := s.series.Resume(teamID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resumed)
}

func (s *Server) deleteSeries(c *gin.Context) {
	teamID, ok := auth.TeamID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing team context"})
		return
	}

	canceled, err := s.series.Cancel(teamID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": canceled.UUID})
}

func (s *Server) upcomingSeries(c *gin.Context) {
	teamID, ok := auth.TeamID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing team context"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	found, dates, err := s.series.Upcoming(teamID, c.Param("id"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"series": found, "occurrences": dates})
}

func (s *Server) login(c *gin.Context) {
	var loginReq struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&loginReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := s.db.Where("username = ?", loginReq.Username).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if !user.CheckPassword(loginReq.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := auth.GenerateToken(&user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) register(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
		Email    string `json:"email" binding:"required"`
		TeamID   uint   `json:"team_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := models.User{
		Username: req.Username,
		Email:    req.Email,
		TeamID:   req.TeamID,
		IsActive: true,
	}
	if err := user.SetPassword(req.Password); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}

	if err := s.db.Create(&user).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username or email already taken"})
		return
	}

	// A registration without a team starts its own.
	if user.TeamID == 0 {
		user.TeamID = user.ID
		if err := s.db.Model(&user).Update("team_id", user.TeamID).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to assign team"})
			return
		}
	}

	c.JSON(http.StatusCreated, user)
}

func (s *Server) respondError(c *gin.Context, err error) {
	var validation *series.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Message, "field": validation.Field})
	case errors.Is(err, series.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, series.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing team context"})
	default:
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
