package handler

import (
	"errors"
	"net/http"

	"ai-chat-go/internal/middleware"
	"ai-chat-go/internal/service"
	"ai-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 头像文件大小上限
const maxAvatarBytes = 5 << 20

// UserHandler 负责处理当前用户相关的 REST 请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// GetProfile 返回当前用户信息。
func (h *UserHandler) GetProfile(c *gin.Context) {
	profile, err := h.userService.Profile(c.Request.Context(), middleware.PrincipalFrom(c))
	if err != nil {
		log.Error("GetProfile failed", err)
		respond(c, http.StatusInternalServerError, "获取用户信息失败", nil)
		return
	}
	respond(c, http.StatusOK, "success", profile)
}

// UploadAvatar 处理 multipart 头像上传，表单字段为 file。
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond(c, http.StatusBadRequest, "缺少文件字段 file", nil)
		return
	}
	if fileHeader.Size > maxAvatarBytes {
		respond(c, http.StatusRequestEntityTooLarge, "头像文件不能超过 5MB", nil)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respond(c, http.StatusBadRequest, "无法读取上传文件", nil)
		return
	}
	defer file.Close()

	profile, err := h.userService.UploadAvatar(
		c.Request.Context(),
		middleware.PrincipalFrom(c),
		fileHeader.Filename,
		file,
		fileHeader.Size,
		fileHeader.Header.Get("Content-Type"),
	)
	switch {
	case errors.Is(err, service.ErrInvalidAvatar):
		respond(c, http.StatusUnsupportedMediaType, "头像必须是图片", nil)
	case errors.Is(err, service.ErrStorageDisabled):
		respond(c, http.StatusServiceUnavailable, "对象存储未启用", nil)
	case err != nil:
		log.Error("UploadAvatar failed", err)
		respond(c, http.StatusInternalServerError, "头像上传失败", nil)
	default:
		respond(c, http.StatusOK, "Avatar updated", profile)
	}
}
