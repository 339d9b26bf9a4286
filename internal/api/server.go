package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"registrar/internal/api/auth"
	"registrar/internal/api/middleware"
	"registrar/internal/config"
	"registrar/internal/model"
	"registrar/internal/pkg/ratelimit"
	"registrar/internal/pkg/revoke"
	"registrar/internal/search"
	"registrar/internal/session"
	"registrar/internal/stats"
	"registrar/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端以及 Gin 路由引擎；每个请求
// 都会基于令牌身份构造一个全新的会话服务实例。
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *gorm.DB
	rdb      *redis.Client
	router   *gin.Engine
	driver   *store.Driver
	auth     *auth.Handler
	searcher *search.Engine
	stats    *stats.Aggregator
	denylist *revoke.Denylist
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, err
	}

	driver := store.NewDriver(db)
	if err := driver.AutoMigrate(); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	denylist := revoke.NewDenylist(rdb, cfg.App.TokenTTL)
	limiter := ratelimit.NewLimiter(rdb, cfg.App.RateLimit, cfg.App.RateBurst)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		rdb:      rdb,
		router:   r,
		driver:   driver,
		searcher: search.NewEngine(driver),
		stats:    stats.NewAggregator(driver),
		denylist: denylist,
		auth: auth.NewHandler(driver, denylist, limiter,
			cfg.Security.JWTSecret, cfg.App.TokenTTL, cfg.Security.AdminAccessToken, logger),
	}
	s.registerRoutes()
	return s, nil
}

// Run 启动 HTTP 服务器并开始监听请求。
func (s *Server) Run() error {
	s.logger.Info("api server listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/register", s.auth.Register)
	s.router.POST("/login", s.auth.Login)

	authed := s.router.Group("/")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret, s.denylist))
	authed.POST("/logout", s.auth.Logout)

	authed.GET("/users", s.handleListUsers)
	authed.GET("/users/:id", s.handleGetUser)
	authed.PATCH("/users/:id", s.handleUpdateUser)
	authed.DELETE("/users/:id", s.handleDeleteUser)
	authed.POST("/users/:id/role", s.handleSetUserRole)
	authed.POST("/users/:id/suspend", s.handleSuspendUser)
	authed.POST("/users/:id/unsuspend", s.handleUnsuspendUser)

	authed.GET("/students", s.handleListStudents)
	authed.GET("/teachers", s.handleListTeachers)

	authed.GET("/courses", s.handleSearchCourses)
	authed.POST("/courses", s.handleCreateCourses)
	authed.PATCH("/courses/:id", s.handleUpdateCourse)
	authed.DELETE("/courses/:id", s.handleDeleteCourse)
	authed.POST("/courses/:id/enroll", s.handleEnroll)
	authed.POST("/courses/:id/drop", s.handleDrop)

	authed.GET("/stats", s.handleStats)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sessionFor 按令牌身份恢复一个仅服务于本次请求的会话。
func (s *Server) sessionFor(c *gin.Context) (*session.Service, bool) {
	svc := session.NewService(s.driver, s.logger)
	if err := svc.ResumeAs(c.Request.Context(), c.GetInt("userID")); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return nil, false
	}
	return svc, true
}

// userView 是对外返回的用户视图，不含口令哈希。
type userView struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Verified  bool   `json:"verified"`
	Suspended bool   `json:"suspended"`
	Role      string `json:"role"`
}

func toUserView(u model.User) userView {
	return userView{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Phone:     u.Phone,
		Verified:  u.Verified,
		Suspended: u.Suspended,
		Role:      string(u.Role),
	}
}

func (s *Server) handleListUsers(c *gin.Context) {
	svc, ok := s.sessionFor(c)
	if !ok {
		return
	}

	var users []model.User
	var err error
	if q := c.Query("q"); q != "" {
		users, err = svc.SearchUsers(c.Request.Context(), q)
	} else {
		users, err = svc.GetUsers(c.Request.Context())
	}
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}

	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, toUserView(u))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) handleGetUser(c *gin.Context) {
	svc, ok := s.sessionFor(c)
	if !ok {
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	user, err := svc.GetUser(c.Request.Context(), id)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toUserView(user))
}

type updateUserRequest struct {
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Verified  *bool   `json:"verified"`
	Suspended *bool   `json:"suspended"`
	Role      *string `json:"role"`
}

func (s *Server) handleUpdateUser(c *gin.Context) {
	svc, ok := s.sessionFor(c)
	if !ok {
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := svc.GetUser(c.Request.Context(), id)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}

	if req.Username != nil {
		user.Username = *req.Username
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Phone != nil {
		user.Phone = *req.Phone
	}
	if req.Verified != nil {
		user.Verified = *req.Verified
	}
	if req.Suspended != nil {
		user.Suspended = *req.Suspended
	}
	if req.Role != nil {
		role, err := model.ParseRole(*req.Role)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user.Role = role
	}

	if err := svc.UpdateUser(c.Request.Context(), user); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toUserView(user))
}

func (s *Server) handleDeleteUser(c *gin.Context) {
	svc, ok := s.sessionFor(c)
	if !ok {
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	user, err := svc.GetUser(c.Request.Context(), id)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}

	if err := svc.DeleteUser(c.Request.Context(), user); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

type setRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (s *Server) handleSetUserRole(c *gin.Context) {
	svc, ok := s.sessionFor(c)
	if !ok {
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req setRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := svc.SetUserRole(c.Request.Context(), model.User{ID: id}, req.Role); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "role updated"})
}

func (s *Server) handleSuspendUser(c *gin.Context) {
	s.handleSetSuspended(c, true)
}

func (s *Server) handleUnsuspendUser(c *gin.Context) {
	s.handleSetSuspended(c, false)
}

func (s *Server) handleSetSuspended(c *gin.Context, suspended bool) {
	svc, ok := s.sessionFor(c)
	if !ok {
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	if suspended {
		err = svc.SuspendUser(c.Request.Context(), model.User{ID: id})
	} else {
		err = svc.UnsuspendUser(c.Request.Context(), model.User{ID: id})
	}
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"suspended": suspended})
}

func (s *Server) handleListStudents(c *gin.Context) {
	if _, ok := s.sessionFor(c); !ok {
		return
	}

	records, err := s.driver.Find(c.Request.Context(), model.TableStudentAccounts, nil, store.And)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	students, err := store.UnwrapStudentAccounts(records)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, students)
}

func (s *Server) handleListTeachers(c *gin.Context) {
	if _, ok := s.sessionFor(c); !ok {
		return
	}

	records, err := s.driver.Find(c.Request.Context(), model.TableTeacherAccounts, nil, store.And)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	teachers, err := store.UnwrapTeacherAccounts(records)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, teachers)
}

// courseCardResponse 是课程检索结果的响应条目。
type courseCardResponse struct {
	Course  model.Course         `json:"course"`
	Teacher model.TeacherAccount `json:"teacher"`
	Dept    model.Department     `json:"department"`
	User    userView             `json:"instructor"`
}

func (s *Server) handleSearchCourses(c *gin.Context) {
	if _, ok := s.sessionFor(c); !ok {
		return
	}

	cards, err := s.searcher.SearchCourses(c.Request.Context(), c.Query("q"))
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}

	resp := make([]courseCardResponse, 0, len(cards))
	for _, card := range cards {
		resp = append(resp, courseCardResponse{
			Course:  card.Course,
			Teacher: card.Teacher,
			Dept:    card.Dept,
			User:    toUserView(card.User),
		})
	}
	c.JSON(http.StatusOK, resp)
}

type courseRequest struct {
	TeacherID   int    `json:"teacher_id"`
	Course      string `json:"course" binding:"required"`
	CourseNr    string `json:"course_nr"`
	Description string `json:"description"`
	CrCost      int    `json:"cr_cost"`
	Timeslots   string `json:"timeslots"`
}

func (r courseRequest) toModel(defaultTeacher int) model.Course {
	teacherID := r.TeacherID
	if teacherID == 0 {
		teacherID = defaultTeacher
	}
	description := r.Description
	if description == "" {
		description = "No description."
	}
	return model.Course{
		TeacherID:   teacherID,
		Course:      r.Course,
		CourseNr:    r.CourseNr,
		Description: description,
		CrCost:      r.CrCost,
		Timeslots:   r.Timeslots,
	}
}

func (s *Server) handleCreateCourses(c *gin.Context) {
	svc, ok := s.sessionFor(c)
	if !ok {
		return
	}

	var reqs []courseRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(reqs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no courses given"})
		return
	}

	courses := make([]model.Course, 0, len(reqs))
	for _, r := range reqs {
		courses = append(courses, r.toModel(svc.Identity().ID))
	}

	if err := svc.RegisterCourses(c.Request.Context(), courses); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "courses registered"})
}

type updateCourseRequest struct {
	Course      *string `json:"course"`
	CourseNr    *string `json:"course_nr"`
	Description *string `json:"description"`
	CrCost      *int    `json:"cr_cost"`
	Timeslots   *string `json:"timeslots"`
}

func (s *Server) handleUpdateCourse(c *gin.Context) {
	svc, ok := s.sessionFor(c)
	if !ok {
		return
	}
	course, ok := s.courseByParam(c)
	if !ok {
		return
	}

	var req updateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Course != nil {
		course.Course = *req.Course
	}
	if req.CourseNr != nil {
		course.CourseNr = *req.CourseNr
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.CrCost != nil {
		course.CrCost = *req.CrCost
	}
	if req.Timeslots != nil {
		course.Timeslots = *req.Timeslots
	}

	if err := svc.UpdateCourses(c.Request.Context(), []model.Course{course}); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, course)
}

func (s *Server) handleDeleteCourse(c *gin.Context) {
	svc, ok := s.sessionFor(c)
	if !ok {
		return
	}
	course, ok := s.courseByParam(c)
	if !ok {
		return
	}

	if err := svc.RemoveCourses(c.Request.Context(), []model.Course{course}); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (s *Server) handleEnroll(c *gin.Context) {
	svc, ok := s.sessionFor(c)
	if !ok {
		return
	}
	course, ok := s.courseByParam(c)
	if !ok {
		return
	}

	if err := svc.EnrollCourses(c.Request.Context(), []model.Course{course}); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	s.recomputeStanding(c, svc)
	c.JSON(http.StatusCreated, gin.H{"message": "enrolled"})
}

func (s *Server) handleDrop(c *gin.Context) {
	svc, ok := s.sessionFor(c)
	if !ok {
		return
	}
	course, ok := s.courseByParam(c)
	if !ok {
		return
	}

	if err := svc.DropCourses(c.Request.Context(), []model.Course{course}); err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	s.recomputeStanding(c, svc)
	c.JSON(http.StatusOK, gin.H{"message": "dropped"})
}

// recomputeStanding 尽力重算学生学业状态；没有学籍记录时跳过。
func (s *Server) recomputeStanding(c *gin.Context, svc *session.Service) {
	err := svc.RecomputeStanding(c.Request.Context(), svc.Identity().ID)
	if err != nil {
		var nerr *session.NotFoundError
		if !errors.As(err, &nerr) && s.logger != nil {
			s.logger.Warn("recompute standing failed",
				slog.Int("user_id", svc.Identity().ID),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Server) handleStats(c *gin.Context) {
	if _, ok := s.sessionFor(c); !ok {
		return
	}

	summary, err := s.stats.Summarize(c.Request.Context())
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// courseByParam 按路径参数加载课程，失败时已写好响应。
func (s *Server) courseByParam(c *gin.Context) (model.Course, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid course id"})
		return model.Course{}, false
	}

	rec, err := s.driver.FindOne(c.Request.Context(), model.TableCourses, store.CourseByID(id))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no course found"})
		return model.Course{}, false
	}
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return model.Course{}, false
	}
	course, ok := rec.(*model.Course)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage invariant violated"})
		return model.Course{}, false
	}
	return *course, true
}

// httpStatus 将领域错误映射为 HTTP 状态码。
func httpStatus(err error) int {
	var verr *session.ValidationError
	var aerr *session.AuthError
	var perr *session.PermissionError
	var nerr *session.NotFoundError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &aerr):
		return http.StatusUnauthorized
	case errors.As(err, &perr):
		return http.StatusForbidden
	case errors.As(err, &nerr):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
