package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/kkdo11/CueCode/internal/apiclient"
	"github.com/kkdo11/CueCode/internal/models"

	"go.uber.org/zap"
)

// ErrNoManagerIdentity 身份查询没有返回管理者 ID
// 调用方呈现"管理者信息不存在"状态，且不得启动轮询和推送订阅。
var ErrNoManagerIdentity = errors.New("no manager identity")

// Client 患者目录客户端
// 先通过身份接口解析管理者 ID，再拉取该管理者名下的患者列表，
// 成功后整体替换 OwnedPatientSet。
type Client struct {
	api    *apiclient.Client
	set    *OwnedPatientSet
	logger *zap.Logger
}

// NewClient 创建目录客户端
func NewClient(api *apiclient.Client, set *OwnedPatientSet, logger *zap.Logger) *Client {
	return &Client{
		api:    api,
		set:    set,
		logger: logger,
	}
}

// FetchOwnedPatients 拉取管理者名下的患者列表
// 身份查询失败或没有 managerId 时返回 ErrNoManagerIdentity；
// 列表接口返回 401/403 时透传 apiclient.ErrSessionExpired。
func (c *Client) FetchOwnedPatients(ctx context.Context) ([]models.PatientRef, error) {
	me, err := c.api.Me(ctx)
	if err != nil {
		if errors.Is(err, apiclient.ErrSessionExpired) {
			return nil, err
		}
		c.logger.Warn("Identity lookup failed",
			zap.Error(err),
		)
		return nil, ErrNoManagerIdentity
	}
	if me.ManagerID == "" {
		c.logger.Warn("Identity lookup returned no manager id",
			zap.String("user_id", me.UserID),
		)
		return nil, ErrNoManagerIdentity
	}

	patients, err := c.api.PatientList(ctx, me.ManagerID)
	if err != nil {
		if errors.Is(err, apiclient.ErrSessionExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to fetch patient list: %w", err)
	}

	// 整体替换集合（无合并）
	c.set.Replace(patients)

	c.logger.Info("Patient directory refreshed",
		zap.String("manager_id", me.ManagerID),
		zap.Int("patient_count", len(patients)),
	)

	return patients, nil
}
