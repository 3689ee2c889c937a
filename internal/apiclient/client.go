package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kkdo11/CueCode/internal/models"

	"go.uber.org/zap"
)

// ErrSessionExpired 会话失效（任何核心接口返回 401/403 都按会话过期处理，不自动重试）
var ErrSessionExpired = errors.New("session expired")

// Client 上游 REST 客户端（经网关访问 UserService / MotionService）
// 会话凭证是 HTTP-only Cookie，每个请求原样携带。
type Client struct {
	baseURL    string
	httpClient *http.Client
	cookieName string
	cookie     string
	logger     *zap.Logger
}

// MeResponse GET /user/me 响应
type MeResponse struct {
	ManagerID string `json:"managerId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserRole  string `json:"userRole"`
}

// NewClient 创建 REST 客户端
func NewClient(baseURL, cookieName, cookie string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cookieName: cookieName,
		cookie:     cookie,
		logger:     logger,
	}
}

// Me 查询当前会话身份（managerId / userId / userName / userRole）
func (c *Client) Me(ctx context.Context) (*MeResponse, error) {
	var me MeResponse
	if err := c.getJSON(ctx, "/user/me", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// PatientList 查询管理者名下的患者列表
func (c *Client) PatientList(ctx context.Context, managerID string) ([]models.PatientRef, error) {
	var patients []models.PatientRef
	query := url.Values{"managerId": {managerID}}
	if err := c.getJSON(ctx, "/patient/list", query, &patients); err != nil {
		return nil, err
	}
	return patients, nil
}

// LastPhrase 查询患者最近一次识别语句（phrase 可能为 null）
func (c *Client) LastPhrase(ctx context.Context, patientID string) (*string, error) {
	var resp struct {
		Phrase *string `json:"phrase"`
	}
	query := url.Values{"patientId": {patientID}}
	if err := c.getJSON(ctx, "/motions/history/last", query, &resp); err != nil {
		return nil, err
	}
	return resp.Phrase, nil
}

// ConfirmAlert 向上游确认报警（POST /motions/alerts/confirm/<alertId>，无请求体）
func (c *Client) ConfirmAlert(ctx context.Context, alertID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/motions/alerts/confirm/"+url.PathEscape(alertID), nil)
	if err != nil {
		return fmt.Errorf("failed to build confirm request: %w", err)
	}
	c.addCookie(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("confirm request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrSessionExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("confirm alert %s: unexpected status %d", alertID, resp.StatusCode)
	}
	return nil
}

// WebSocketURL 推导报警推送通道地址
// 把 API 基地址的 HTTP scheme 换成 WebSocket 等价物，再追加订阅路径。
func (c *Client) WebSocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q in base url", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/alerts"
	return u.String(), nil
}

// AuthHeader 构建推送通道握手用的 Cookie 头
func (c *Client) AuthHeader() http.Header {
	header := http.Header{}
	if c.cookie != "" {
		header.Set("Cookie", c.cookieName+"="+c.cookie)
	}
	return header
}

// getJSON 执行 GET 请求并解析 JSON 响应
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dest interface{}) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.addCookie(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrSessionExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) addCookie(req *http.Request) {
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: c.cookie})
	}
}
