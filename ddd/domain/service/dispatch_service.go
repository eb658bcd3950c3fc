package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/event"
	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/gateway"
	"acquisition-service/ddd/domain/port"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/logger"
)

// RegisterRequest 节点注册信息
type RegisterRequest struct {
	EncoderID     string
	Name          string
	Capabilities  vo.Capabilities
	MaxConcurrent int
}

// ProgressUpdate 节点上报的进度
type ProgressUpdate struct {
	AssignmentID string
	Progress     float64
	FPS          float64
	Speed        float64
	ETASeconds   int64
}

// EncodeObserver 接收某个任务的分配进度与最终结果
type EncodeObserver interface {
	OnProgress(a *entity.EncoderAssignmentEntity)
	OnFinished(a *entity.EncoderAssignmentEntity)
}

// DispatchOption 调度可选配置
type DispatchOption func(*DispatchService)

// WithDispatchClock 替换时间源
func WithDispatchClock(now func() time.Time) DispatchOption {
	return func(s *DispatchService) { s.now = now }
}

// WithLiveness 心跳间隔与允许错过的次数
func WithLiveness(interval time.Duration, missFactor int) DispatchOption {
	return func(s *DispatchService) {
		if interval > 0 {
			s.heartbeatInterval = interval
		}
		if missFactor > 0 {
			s.missFactor = missFactor
		}
	}
}

// WithAssignmentMaxAttempts 单个编码分配的最大尝试次数
func WithAssignmentMaxAttempts(n int) DispatchOption {
	return func(s *DispatchService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// DispatchService 远程编码调度：节点会话、能力匹配、进度与结果
type DispatchService struct {
	encoders repo.EncoderRepository
	assigns  repo.AssignmentRepository
	events   event.Publisher

	now               func() time.Time
	heartbeatInterval time.Duration
	missFactor        int
	maxAttempts       int

	sessMu   sync.RWMutex
	sessions map[string]gateway.EncoderSession

	watchMu  sync.Mutex
	watchers map[string]EncodeObserver

	assignMu sync.Mutex
}

func NewDispatchService(encoders repo.EncoderRepository, assigns repo.AssignmentRepository, events event.Publisher, opts ...DispatchOption) *DispatchService {
	s := &DispatchService{
		encoders:          encoders,
		assigns:           assigns,
		events:            events,
		now:               time.Now,
		heartbeatInterval: 10 * time.Second,
		missFactor:        3,
		maxAttempts:       3,
		sessions:          make(map[string]gateway.EncoderSession),
		watchers:          make(map[string]EncodeObserver),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HeartbeatInterval 下发给节点的心跳间隔
func (s *DispatchService) HeartbeatInterval() time.Duration {
	return s.heartbeatInterval
}

func (s *DispatchService) publishAssignment(typ event.Type, a *entity.EncoderAssignmentEntity, encoderID string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if encoderID == "" {
		encoderID = a.EncoderID()
	}
	s.events.Publish(event.Event{
		Type:         typ,
		JobID:        a.JobID(),
		JobType:      vo.StepTypeEncode.String(),
		EncoderID:    encoderID,
		AssignmentID: a.ID(),
		Status:       a.Status().String(),
		Data:         data,
		At:           s.now(),
	})
}

func (s *DispatchService) publishEncoder(typ event.Type, enc *entity.RemoteEncoderEntity) {
	if s.events == nil {
		return
	}
	s.events.Publish(event.Event{
		Type:      typ,
		EncoderID: enc.EncoderID(),
		Status:    enc.Status().String(),
		At:        s.now(),
	})
}

// ---------------------------------------------------------------------------
// 会话协议

// Register REGISTER：登记节点并绑定会话
func (s *DispatchService) Register(ctx context.Context, req RegisterRequest, session gateway.EncoderSession) (*entity.RemoteEncoderEntity, error) {
	if req.EncoderID == "" {
		return nil, entity.NewDomainError("encoder id is required")
	}
	now := s.now()
	enc, err := s.encoders.GetEncoderByID(ctx, req.EncoderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoder: %w", err)
	}
	if enc == nil {
		enc = entity.NewRemoteEncoderEntity(req.EncoderID, req.Name, req.Capabilities, req.MaxConcurrent, now)
	} else {
		enc.Reregister(req.Name, req.Capabilities, req.MaxConcurrent, now)
	}
	if err := s.encoders.SaveEncoder(ctx, enc); err != nil {
		return nil, fmt.Errorf("failed to save encoder: %w", err)
	}

	s.sessMu.Lock()
	old := s.sessions[req.EncoderID]
	s.sessions[req.EncoderID] = session
	s.sessMu.Unlock()
	if old != nil && old != session {
		old.Close()
	}

	logger.Infof("encoder registered encoder_id=%s name=%s max_concurrent=%d codecs=%d",
		enc.EncoderID(), enc.Name(), enc.MaxConcurrent(), len(req.Capabilities.VideoEncoders))
	s.publishEncoder(event.EncoderRegistered, enc)
	s.tryAssignPending(ctx)
	return enc, nil
}

// Heartbeat HEARTBEAT：刷新心跳
// 会话已被回收的节点返回 ErrNoSession，需要重新 REGISTER 才能接收分配
// 节点上报的 currentJobs 仅用于诊断，计数以服务端事务为准
func (s *DispatchService) Heartbeat(ctx context.Context, encoderID string, reportedJobs int) error {
	if s.session(encoderID) == nil {
		enc, err := s.encoders.GetEncoderByID(ctx, encoderID)
		if err != nil {
			return fmt.Errorf("failed to get encoder: %w", err)
		}
		if enc == nil {
			return ErrEncoderNotFound
		}
		return ErrNoSession
	}
	ok, err := s.encoders.TouchHeartbeat(ctx, encoderID, s.now())
	if err != nil {
		return fmt.Errorf("failed to update encoder heartbeat: %w", err)
	}
	if !ok {
		return ErrEncoderNotFound
	}
	if enc, err := s.encoders.GetEncoderByID(ctx, encoderID); err == nil && enc != nil && enc.CurrentJobs() != reportedJobs {
		logger.Debugf("encoder job count differs encoder_id=%s reported=%d tracked=%d", encoderID, reportedJobs, enc.CurrentJobs())
	}
	s.tryAssignPending(ctx)
	return nil
}

// Progress PROGRESS：更新进度并转发给订阅者
func (s *DispatchService) Progress(ctx context.Context, encoderID string, upd ProgressUpdate) error {
	a, err := s.ownedAssignment(ctx, encoderID, upd.AssignmentID)
	if err != nil {
		return err
	}
	if err := a.UpdateProgress(upd.Progress, upd.FPS, upd.Speed, upd.ETASeconds, s.now()); err != nil {
		return err
	}
	if err := s.assigns.UpdateAssignment(ctx, a); err != nil {
		return ignoreConflict(err)
	}
	s.publishAssignment(event.AssignmentProgress, a, encoderID, map[string]interface{}{
		"progress": a.Progress(),
		"fps":      a.FPS(),
		"speed":    a.Speed(),
		"eta":      a.ETASeconds(),
	})
	if obs := s.watcher(a.JobID()); obs != nil {
		obs.OnProgress(a)
	}
	return nil
}

// Complete COMPLETE：分配完成，释放槽位
func (s *DispatchService) Complete(ctx context.Context, encoderID, assignmentID string, outputMeta map[string]interface{}) error {
	a, err := s.ownedAssignment(ctx, encoderID, assignmentID)
	if err != nil {
		return err
	}
	if err := a.Complete(outputMeta, s.now()); err != nil {
		return err
	}
	if err := s.assigns.ReleaseFromEncoder(ctx, a, encoderID, repo.ReleaseCompleted); err != nil {
		return fmt.Errorf("failed to complete assignment: %w", err)
	}
	logger.Infof("assignment completed assignment_id=%s job_id=%s encoder_id=%s", a.ID(), a.JobID(), encoderID)
	s.finish(a, encoderID)
	s.tryAssignPending(ctx)
	return nil
}

// Fail FAIL：仍有次数时回到 PENDING 等待重新分配，否则失败
func (s *DispatchService) Fail(ctx context.Context, encoderID, assignmentID, errMsg string) error {
	a, err := s.ownedAssignment(ctx, encoderID, assignmentID)
	if err != nil {
		return err
	}
	requeued, err := a.Fail(errMsg, s.now())
	if err != nil {
		return err
	}
	if err := s.assigns.ReleaseFromEncoder(ctx, a, encoderID, repo.ReleaseFailed); err != nil {
		return fmt.Errorf("failed to fail assignment: %w", err)
	}
	if requeued {
		logger.Warnf("assignment failed, requeued assignment_id=%s encoder_id=%s attempt=%d/%d error=%s",
			a.ID(), encoderID, a.Attempt(), a.MaxAttempts(), errMsg)
		s.publishAssignment(event.AssignmentRequeued, a, encoderID, map[string]interface{}{"error": errMsg})
	} else {
		logger.Errorf("assignment failed assignment_id=%s job_id=%s encoder_id=%s error=%s", a.ID(), a.JobID(), encoderID, errMsg)
		s.finish(a, encoderID)
	}
	s.tryAssignPending(ctx)
	return nil
}

// Disconnect 会话断开；节点状态由心跳超时决定
func (s *DispatchService) Disconnect(encoderID string, session gateway.EncoderSession) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if cur, ok := s.sessions[encoderID]; ok && cur == session {
		delete(s.sessions, encoderID)
		logger.Infof("encoder session closed encoder_id=%s", encoderID)
	}
}

func (s *DispatchService) session(encoderID string) gateway.EncoderSession {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	return s.sessions[encoderID]
}

// detachSession 移除节点会话并返回，调用方负责 Close
func (s *DispatchService) detachSession(encoderID string) gateway.EncoderSession {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	sess := s.sessions[encoderID]
	delete(s.sessions, encoderID)
	return sess
}

// expireSession 会话仍是 expected 时移除并关闭
func (s *DispatchService) expireSession(encoderID string, expected gateway.EncoderSession) {
	s.sessMu.Lock()
	cur, ok := s.sessions[encoderID]
	if !ok || cur != expected {
		s.sessMu.Unlock()
		return
	}
	delete(s.sessions, encoderID)
	s.sessMu.Unlock()
	cur.Close()
}

func (s *DispatchService) ownedAssignment(ctx context.Context, encoderID, assignmentID string) (*entity.EncoderAssignmentEntity, error) {
	a, err := s.assigns.GetAssignmentByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	if a == nil {
		return nil, ErrAssignmentNotFound
	}
	if a.Status() != vo.AssignmentEncoding || a.EncoderID() != encoderID {
		return nil, entity.NewDomainError(fmt.Sprintf("assignment %s is not encoding on %s", assignmentID, encoderID))
	}
	return a, nil
}

// finish 终态分配：发布事件并通知观察者
func (s *DispatchService) finish(a *entity.EncoderAssignmentEntity, encoderID string) {
	s.publishAssignment(event.AssignmentFinished, a, encoderID, map[string]interface{}{"error": a.Error()})
	s.watchMu.Lock()
	obs := s.watchers[a.JobID()]
	delete(s.watchers, a.JobID())
	s.watchMu.Unlock()
	if obs != nil {
		obs.OnFinished(a)
	}
}

func (s *DispatchService) watcher(jobID string) EncodeObserver {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return s.watchers[jobID]
}

// ---------------------------------------------------------------------------
// 任务提交与取消

// SubmitEncodeJob 为已领取的 ENCODE 任务创建分配；同一任务重复提交时复用已有分配
func (s *DispatchService) SubmitEncodeJob(ctx context.Context, job *entity.JobEntity, obs EncodeObserver) (*entity.EncoderAssignmentEntity, error) {
	// 先登记观察者，查询与登记之间结束的分配也能通知到
	s.watch(job.ID(), obs)
	unwatch := func() {
		if obs != nil {
			s.Unwatch(job.ID())
		}
	}
	existing, err := s.assigns.GetLatestAssignmentByJobID(ctx, job.ID())
	if err != nil {
		unwatch()
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	if existing != nil {
		if !existing.Status().IsTerminal() {
			return existing, nil
		}
		// 本次领取之后已经结束的分配直接上报
		if started := job.StartedAt(); started != nil && existing.FinishedAt() != nil && !existing.FinishedAt().Before(*started) {
			unwatch()
			if obs != nil {
				obs.OnFinished(existing)
			}
			return existing, nil
		}
	}

	a, err := s.createAssignment(ctx, job)
	if err != nil {
		unwatch()
		return nil, err
	}
	logger.Infof("assignment created assignment_id=%s job_id=%s codec=%s hwaccel=%s", a.ID(), job.ID(), a.Profile().Codec, a.Profile().HWAccel)
	s.publishAssignment(event.AssignmentCreated, a, "", nil)
	s.tryAssignPending(ctx)

	if fresh, err := s.assigns.GetAssignmentByID(ctx, a.ID()); err == nil && fresh != nil {
		return fresh, nil
	}
	return a, nil
}

func (s *DispatchService) createAssignment(ctx context.Context, job *entity.JobEntity) (*entity.EncoderAssignmentEntity, error) {
	payload := port.StepPayloadFromJob(job)
	input := payload.LookupString("inputPath")
	if input == "" {
		input = payload.LookupString("path")
	}
	if input == "" {
		return nil, failure.Permanentf("encode job %s has no input path", job.ID())
	}
	profile, err := decodeProfile(payload)
	if err != nil {
		return nil, err
	}
	output := payload.LookupString("outputPath")
	if output == "" {
		output = defaultOutputPath(input, profile.Container)
	}

	a := entity.NewEncoderAssignmentEntity(uuid.NewString(), job.ID(), input, output, profile, s.maxAttempts, s.now())
	if err := s.assigns.CreateAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}
	return a, nil
}

func (s *DispatchService) watch(jobID string, obs EncodeObserver) {
	if obs == nil {
		return
	}
	s.watchMu.Lock()
	s.watchers[jobID] = obs
	s.watchMu.Unlock()
}

// Unwatch 停止接收任务的通知
func (s *DispatchService) Unwatch(jobID string) {
	s.watchMu.Lock()
	delete(s.watchers, jobID)
	s.watchMu.Unlock()
}

func decodeProfile(p port.StepPayload) (vo.EncodeProfile, error) {
	var profile vo.EncodeProfile
	raw, ok := p.Lookup("profile")
	if ok {
		b, err := json.Marshal(raw)
		if err != nil {
			return profile, failure.Permanentf("invalid encode profile: %v", err)
		}
		if err := json.Unmarshal(b, &profile); err != nil {
			return profile, failure.Permanentf("invalid encode profile: %v", err)
		}
	}
	if profile.Codec == "" {
		profile.Codec = p.LookupString("codec")
	}
	if profile.Codec == "" {
		return profile, failure.Permanentf("encode profile requires a codec")
	}
	return profile, nil
}

func defaultOutputPath(input, container string) string {
	if container == "" {
		container = "mkv"
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + ".encoded." + strings.TrimPrefix(container, ".")
}

// CancelAssignment 取消分配；编码中的分配释放槽位并向节点发送 CANCEL
func (s *DispatchService) CancelAssignment(ctx context.Context, assignmentID, reason string) (*entity.EncoderAssignmentEntity, error) {
	for i := 0; i < maxCASRetries; i++ {
		a, err := s.assigns.GetAssignmentByID(ctx, assignmentID)
		if err != nil {
			return nil, fmt.Errorf("failed to get assignment: %w", err)
		}
		if a == nil {
			return nil, ErrAssignmentNotFound
		}
		encoderID := a.EncoderID()
		wasEncoding := a.Status() == vo.AssignmentEncoding
		if err := a.Cancel(reason, s.now()); err != nil {
			return nil, err
		}
		if wasEncoding {
			err = s.assigns.ReleaseFromEncoder(ctx, a, encoderID, repo.ReleaseCancelled)
		} else {
			err = s.assigns.UpdateAssignment(ctx, a)
		}
		if errors.Is(err, repo.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to cancel assignment: %w", err)
		}
		if wasEncoding {
			if sess := s.session(encoderID); sess != nil {
				if err := sess.Cancel(a.ID()); err != nil {
					logger.Warnf("failed to send cancel assignment_id=%s encoder_id=%s error=%v", a.ID(), encoderID, err)
				}
			}
		}
		logger.Infof("assignment cancelled assignment_id=%s job_id=%s encoder_id=%s", a.ID(), a.JobID(), encoderID)
		s.finish(a, encoderID)
		if wasEncoding {
			s.tryAssignPending(ctx)
		}
		return a, nil
	}
	return nil, fmt.Errorf("assignment %s: %w", assignmentID, repo.ErrVersionConflict)
}

// CancelByJob 取消任务当前的分配，没有活动分配时返回 nil
func (s *DispatchService) CancelByJob(ctx context.Context, jobID, reason string) (*entity.EncoderAssignmentEntity, error) {
	a, err := s.assigns.GetLatestAssignmentByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	if a == nil || a.Status().IsTerminal() {
		return nil, nil
	}
	return s.CancelAssignment(ctx, a.ID(), reason)
}

// ---------------------------------------------------------------------------
// 分配与存活检测

// tryAssignPending 为 PENDING 分配挑选节点：状态可接收、有空闲槽位、能力匹配、会话在线；
// 优先 currentJobs 最少，其次心跳最新。没有候选时保持 PENDING
func (s *DispatchService) tryAssignPending(ctx context.Context) {
	s.assignMu.Lock()
	defer s.assignMu.Unlock()

	pending, err := s.assigns.ListPendingAssignments(ctx)
	if err != nil {
		logger.Warnf("failed to list pending assignments error=%v", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	encoders, err := s.encoders.ListEncoders(ctx)
	if err != nil {
		logger.Warnf("failed to list encoders error=%v", err)
		return
	}
	live := encoders[:0]
	for _, enc := range encoders {
		if s.session(enc.EncoderID()) != nil {
			live = append(live, enc)
		}
	}

	for _, a := range pending {
		candidates := make([]*entity.RemoteEncoderEntity, 0, len(live))
		for _, enc := range live {
			if enc.Eligible(a.Profile()) {
				candidates = append(candidates, enc)
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].CurrentJobs() != candidates[j].CurrentJobs() {
				return candidates[i].CurrentJobs() < candidates[j].CurrentJobs()
			}
			return candidates[i].LastHeartbeat().After(candidates[j].LastHeartbeat())
		})

		assigned := false
		for _, enc := range candidates {
			ok, conflict := s.assignTo(ctx, a, enc)
			if conflict {
				break
			}
			if ok {
				assigned = true
				s.refreshEncoder(ctx, live, enc.EncoderID())
				break
			}
		}
		if !assigned {
			logger.Debugf("assignment waiting for capacity assignment_id=%s codec=%s reason=%s",
				a.ID(), a.Profile().Codec, failure.ErrCapacityUnavailable)
		}
	}
}

// assignTo 返回 (是否成功, 分配是否已被他人修改)
func (s *DispatchService) assignTo(ctx context.Context, a *entity.EncoderAssignmentEntity, enc *entity.RemoteEncoderEntity) (bool, bool) {
	attempt := entity.RestoreEncoderAssignmentEntity(a.State())
	if err := attempt.AssignTo(enc.EncoderID(), s.now()); err != nil {
		return false, true
	}
	err := s.assigns.AssignToEncoder(ctx, attempt)
	switch {
	case errors.Is(err, repo.ErrCapacityExhausted):
		return false, false
	case errors.Is(err, repo.ErrVersionConflict):
		return false, true
	case err != nil:
		logger.Warnf("failed to assign assignment_id=%s encoder_id=%s error=%v", a.ID(), enc.EncoderID(), err)
		return false, true
	}

	sess := s.session(enc.EncoderID())
	cmd := gateway.AssignCommand{
		AssignmentID: attempt.ID(),
		JobID:        attempt.JobID(),
		InputPath:    attempt.InputPath(),
		OutputPath:   attempt.OutputPath(),
		Profile:      attempt.Profile(),
	}
	if sess == nil || sess.Assign(cmd) != nil {
		// 会话已断开：视为节点失联，立即回收
		logger.Warnf("failed to deliver assignment assignment_id=%s encoder_id=%s", attempt.ID(), enc.EncoderID())
		if sess != nil {
			s.expireSession(enc.EncoderID(), sess)
		}
		s.requeueLost(ctx, attempt, enc.EncoderID())
		return false, true
	}

	logger.Infof("assignment dispatched assignment_id=%s job_id=%s encoder_id=%s attempt=%d/%d",
		attempt.ID(), attempt.JobID(), enc.EncoderID(), attempt.Attempt(), attempt.MaxAttempts())
	s.publishAssignment(event.AssignmentStarted, attempt, enc.EncoderID(), nil)
	return true, false
}

func (s *DispatchService) refreshEncoder(ctx context.Context, list []*entity.RemoteEncoderEntity, encoderID string) {
	fresh, err := s.encoders.GetEncoderByID(ctx, encoderID)
	if err != nil || fresh == nil {
		return
	}
	for i, enc := range list {
		if enc.EncoderID() == encoderID {
			list[i] = fresh
		}
	}
}

// requeueLost 节点失联时回收编码中的分配，返回是否已从该节点收回
func (s *DispatchService) requeueLost(ctx context.Context, a *entity.EncoderAssignmentEntity, encoderID string) bool {
	requeued, err := a.Requeue(failure.LivenessTimeout(encoderID).Error(), s.now())
	if err != nil {
		return false
	}
	if err := s.assigns.ReleaseFromEncoder(ctx, a, encoderID, repo.ReleaseRequeued); err != nil {
		logger.Warnf("failed to requeue assignment assignment_id=%s error=%v", a.ID(), err)
		return false
	}
	if requeued {
		s.publishAssignment(event.AssignmentRequeued, a, encoderID, map[string]interface{}{"error": a.Error()})
	} else {
		s.finish(a, encoderID)
	}
	return true
}

// CheckLiveness 心跳超过 interval×missFactor 的节点置为 OFFLINE，其编码中的分配回到 PENDING；
// 收回的分配向节点发送 CANCEL，随后关闭会话，节点重新 REGISTER 后才会再次接收分配
func (s *DispatchService) CheckLiveness(ctx context.Context) (int, error) {
	encoders, err := s.encoders.ListEncoders(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list encoders: %w", err)
	}
	now := s.now()
	timeout := s.heartbeatInterval * time.Duration(s.missFactor)
	offline := 0
	for _, enc := range encoders {
		if !enc.IsStale(timeout, now) {
			continue
		}
		marked, err := s.encoders.MarkOfflineIfStale(ctx, enc.EncoderID(), now.Add(-timeout), now)
		if err != nil {
			logger.Warnf("failed to mark encoder offline encoder_id=%s error=%v", enc.EncoderID(), err)
			continue
		}
		if !marked {
			continue
		}
		offline++
		sess := s.detachSession(enc.EncoderID())
		logger.Warnf("encoder offline encoder_id=%s last_heartbeat=%s", enc.EncoderID(), enc.LastHeartbeat().Format(time.RFC3339))
		if s.events != nil {
			s.events.Publish(event.Event{Type: event.EncoderOffline, EncoderID: enc.EncoderID(), Status: vo.EncoderOffline.String(), At: now})
		}

		active, _, err := s.assigns.ListAssignments(ctx, repo.AssignmentFilter{
			EncoderID: enc.EncoderID(),
			Statuses:  []vo.AssignmentStatus{vo.AssignmentEncoding},
		})
		if err != nil {
			logger.Warnf("failed to list assignments encoder_id=%s error=%v", enc.EncoderID(), err)
		}
		for _, a := range active {
			if !s.requeueLost(ctx, a, enc.EncoderID()) || sess == nil {
				continue
			}
			if err := sess.Cancel(a.ID()); err != nil {
				logger.Debugf("failed to send cancel to offline encoder assignment_id=%s encoder_id=%s error=%v", a.ID(), enc.EncoderID(), err)
			}
		}
		if sess != nil {
			sess.Close()
		}
	}
	if offline > 0 {
		s.tryAssignPending(ctx)
	}
	return offline, nil
}

// ---------------------------------------------------------------------------
// 查询

// ListEncoders 节点列表
func (s *DispatchService) ListEncoders(ctx context.Context) ([]*entity.RemoteEncoderEntity, error) {
	return s.encoders.ListEncoders(ctx)
}

// GetEncoder 查询节点
func (s *DispatchService) GetEncoder(ctx context.Context, encoderID string) (*entity.RemoteEncoderEntity, error) {
	enc, err := s.encoders.GetEncoderByID(ctx, encoderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoder: %w", err)
	}
	if enc == nil {
		return nil, ErrEncoderNotFound
	}
	return enc, nil
}

// HasSession 节点是否有在线会话
func (s *DispatchService) HasSession(encoderID string) bool {
	return s.session(encoderID) != nil
}

// ListAssignments scope 为 active 或 history
func (s *DispatchService) ListAssignments(ctx context.Context, scope string, limit, offset int) ([]*entity.EncoderAssignmentEntity, int64, error) {
	filter := repo.AssignmentFilter{Limit: limit, Offset: offset}
	if scope == "history" {
		filter.Statuses = []vo.AssignmentStatus{vo.AssignmentCompleted, vo.AssignmentFailed, vo.AssignmentCancelled}
	} else {
		filter.Statuses = []vo.AssignmentStatus{vo.AssignmentPending, vo.AssignmentEncoding}
	}
	return s.assigns.ListAssignments(ctx, filter)
}

// GetAssignment 查询分配
func (s *DispatchService) GetAssignment(ctx context.Context, assignmentID string) (*entity.EncoderAssignmentEntity, error) {
	a, err := s.assigns.GetAssignmentByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	if a == nil {
		return nil, ErrAssignmentNotFound
	}
	return a, nil
}
