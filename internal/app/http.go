package app

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

const sessionKey = "session"

type HTTPServer struct {
	service *Service
	sockets *SocketGateway
	log     *logrus.Logger
	echo    *echo.Echo
}

// NewHTTPServer wires the REST routes and, when sockets is not nil, the live
// connection endpoint at /ws.
func NewHTTPServer(service *Service, sockets *SocketGateway, corsOrigins []string, logger *logrus.Logger) *HTTPServer {
	s := &HTTPServer{service: service, sockets: sockets, log: logger}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.RequestID())
	e.Use(s.requestLog)
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: corsOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
	}))

	e.GET("/api/health", s.handleHealth)
	e.HEAD("/api/health", s.handleHealth)
	e.GET("/api/ready", s.handleReady)
	e.HEAD("/api/ready", s.handleReady)
	if sockets != nil {
		e.GET("/ws", echo.WrapHandler(sockets))
	}

	api := e.Group("/api", s.requireSession)
	api.GET("/boards", s.handleListBoards)
	api.POST("/boards", s.handleCreateBoard)
	api.GET("/boards/:id", s.handleGetBoard)
	api.PUT("/boards/:id", s.handleUpdateBoard)
	api.DELETE("/boards/:id", s.handleDeleteBoard)
	api.POST("/boards/:id/lists", s.handleCreateList)
	api.POST("/boards/:id/members", s.handleAddMember)
	api.GET("/boards/:id/search", s.handleSearch)

	api.PUT("/lists/:id", s.handleRenameList)
	api.DELETE("/lists/:id", s.handleDeleteList)

	api.POST("/cards", s.handleCreateCard)
	api.PUT("/cards/move", s.handleMoveCard)
	api.PUT("/cards/:id", s.handleUpdateCard)
	api.DELETE("/cards/:id", s.handleDeleteCard)
	api.POST("/cards/:id/comments", s.handleAddComment)
	api.POST("/cards/:id/attachments", s.handleUploadAttachment)
	api.GET("/attachments/:id", s.handleDownloadAttachment)

	s.echo = e
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

func (s *HTTPServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Readiness(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	return c.JSON(statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.log.WithFields(logrus.Fields{
			"request_id":  c.Response().Header().Get(echo.HeaderXRequestID),
			"method":      c.Request().Method,
			"path":        c.Request().URL.Path,
			"status":      c.Response().Status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
		return nil
	}
}

func (s *HTTPServer) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var status int
	var code, message string
	var details any
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status, code, message = httpErr.Code, strings.ToUpper(strings.ReplaceAll(http.StatusText(httpErr.Code), " ", "_")), http.StatusText(httpErr.Code)
		if text, ok := httpErr.Message.(string); ok && text != "" {
			message = text
		}
	} else {
		status, code, message, details = mapError(err)
	}
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			"path":       c.Request().URL.Path,
		}).Error("request failed")
	}
	if writeErr := writeError(c, status, code, message, details); writeErr != nil {
		s.log.WithError(writeErr).Warn("write error response")
	}
}

func writeError(c echo.Context, status int, code, message string, details any) error {
	body := map[string]any{
		"code":    code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	if c.Request().Method == http.MethodHead {
		return c.NoContent(status)
	}
	return c.JSON(status, body)
}

func (s *HTTPServer) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c.Request())
		if token == "" {
			return unauthenticated("No token, authorization denied")
		}
		session, err := s.service.Authenticate(c.Request().Context(), token)
		if err != nil {
			return err
		}
		c.Set(sessionKey, session)
		return next(c)
	}
}

func sessionFrom(c echo.Context) Session {
	session, _ := c.Get(sessionKey).(Session)
	return session
}

func bearerToken(r *http.Request) string {
	value := strings.TrimSpace(r.Header.Get(echo.HeaderAuthorization))
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return ""
}

func decodeBody(c echo.Context, target any) error {
	if err := c.Bind(target); err != nil {
		return validationError("Invalid request body", nil)
	}
	return nil
}

func (s *HTTPServer) handleListBoards(c echo.Context) error {
	boards, err := s.service.ListBoards(c.Request().Context(), sessionFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, boards)
}

func (s *HTTPServer) handleCreateBoard(c echo.Context) error {
	var body CreateBoardInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	snap, err := s.service.CreateBoard(c.Request().Context(), sessionFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, snap.Board)
}

func (s *HTTPServer) handleGetBoard(c echo.Context) error {
	snap, err := s.service.Board(c.Request().Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *HTTPServer) handleUpdateBoard(c echo.Context) error {
	var body UpdateBoardInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	snap, err := s.service.UpdateBoard(c.Request().Context(), sessionFrom(c), c.Param("id"), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap.Board)
}

func (s *HTTPServer) handleDeleteBoard(c echo.Context) error {
	if err := s.service.DeleteBoard(c.Request().Context(), sessionFrom(c), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "Board deleted successfully"})
}

func (s *HTTPServer) handleCreateList(c echo.Context) error {
	var body CreateListInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	_, list, err := s.service.CreateList(c.Request().Context(), sessionFrom(c), c.Param("id"), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, list)
}

func (s *HTTPServer) handleAddMember(c echo.Context) error {
	var body AddMemberInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	snap, err := s.service.AddMember(c.Request().Context(), sessionFrom(c), c.Param("id"), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap.Board)
}

func (s *HTTPServer) handleSearch(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	resp, err := s.service.Search(c.Request().Context(), sessionFrom(c), c.Param("id"), c.QueryParam("q"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) handleRenameList(c echo.Context) error {
	var body RenameListInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	_, list, err := s.service.RenameList(c.Request().Context(), sessionFrom(c), c.Param("id"), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *HTTPServer) handleDeleteList(c echo.Context) error {
	listID := c.Param("id")
	if _, err := s.service.DeleteList(c.Request().Context(), sessionFrom(c), listID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "List deleted successfully", "listId": listID})
}

func (s *HTTPServer) handleCreateCard(c echo.Context) error {
	var body CreateCardInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	_, card, err := s.service.CreateCard(c.Request().Context(), sessionFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, card)
}

func (s *HTTPServer) handleMoveCard(c echo.Context) error {
	var body MoveCardInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	snap, err := s.service.MoveCard(c.Request().Context(), sessionFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *HTTPServer) handleUpdateCard(c echo.Context) error {
	var body UpdateCardInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	_, card, err := s.service.UpdateCard(c.Request().Context(), sessionFrom(c), c.Param("id"), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, card)
}

func (s *HTTPServer) handleDeleteCard(c echo.Context) error {
	if _, err := s.service.DeleteCard(c.Request().Context(), sessionFrom(c), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "Card deleted"})
}

func (s *HTTPServer) handleAddComment(c echo.Context) error {
	var body AddCommentInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	_, card, err := s.service.AddComment(c.Request().Context(), sessionFrom(c), c.Param("id"), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, card)
}

func (s *HTTPServer) handleUploadAttachment(c echo.Context) error {
	header, err := c.FormFile("file")
	if err != nil {
		return validationError("A file field is required", map[string]any{"field": "file"})
	}
	file, err := header.Open()
	if err != nil {
		return validationError("Unreadable upload", nil)
	}
	defer file.Close()

	_, card, err := s.service.AddAttachment(c.Request().Context(), sessionFrom(c), c.Param("id"), UploadInput{
		Filename:    header.Filename,
		ContentType: header.Header.Get(echo.HeaderContentType),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, card)
}

func (s *HTTPServer) handleDownloadAttachment(c echo.Context) error {
	link, err := s.service.AttachmentURL(c.Request().Context(), sessionFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, link)
}
