// Package memory 使用内存保存采集与转介数据，主要用于测试与开发验证。
package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/dbca-wa/prs-harvester/internal/domain"
	"github.com/dbca-wa/prs-harvester/internal/storage"
)

// Store 内存存储实现。所有方法并发安全。
type Store struct {
	mu sync.RWMutex

	messages    map[string]*domain.HarvestedMessage    // ID -> message
	byUID       map[string]string                      // EmailUID -> ID
	attachments map[string]*domain.HarvestedAttachment // ID -> attachment

	referrals map[string]*domain.Referral // ID -> referral
	related   map[string]map[string]bool  // referralID -> 相关转介 ID 集合
	tasks     map[string]*domain.Task
	records   map[string]*domain.Record
	locations map[string]*domain.Location

	regions      map[string]*domain.Region
	refTypes     map[string]*domain.ReferralType
	triggers     map[string]*domain.DopTrigger
	lgas         map[string]*domain.LocalGovernment
	agencies     map[string]*domain.Agency
	orgs         map[string]*domain.Organisation
	taskTypes    map[string]*domain.TaskType
	users        map[string]*domain.User
	assignees    map[string]string // regionID -> userID
	refRegions   map[string][]string
	refTriggers  map[string][]string
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		messages:    make(map[string]*domain.HarvestedMessage),
		byUID:       make(map[string]string),
		attachments: make(map[string]*domain.HarvestedAttachment),
		referrals:   make(map[string]*domain.Referral),
		related:     make(map[string]map[string]bool),
		tasks:       make(map[string]*domain.Task),
		records:     make(map[string]*domain.Record),
		locations:   make(map[string]*domain.Location),
		regions:     make(map[string]*domain.Region),
		refTypes:    make(map[string]*domain.ReferralType),
		triggers:    make(map[string]*domain.DopTrigger),
		lgas:        make(map[string]*domain.LocalGovernment),
		agencies:    make(map[string]*domain.Agency),
		orgs:        make(map[string]*domain.Organisation),
		taskTypes:   make(map[string]*domain.TaskType),
		users:       make(map[string]*domain.User),
		assignees:   make(map[string]string),
		refRegions:  make(map[string][]string),
		refTriggers: make(map[string][]string),
	}
}

// Health 实现 storage.Store。
func (s *Store) Health() error { return nil }

// ========== HarvestRepository ==========

func (s *Store) SaveHarvestedMessage(m *domain.HarvestedMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUID[m.EmailUID]; ok {
		return false, nil
	}
	cp := *m
	s.messages[m.ID] = &cp
	s.byUID[m.EmailUID] = m.ID
	return true, nil
}

func (s *Store) GetHarvestedMessageByUID(uid string) (*domain.HarvestedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUID[uid]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s.messages[id]
	return &cp, nil
}

func (s *Store) ListUnprocessedMessages() ([]domain.HarvestedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.HarvestedMessage
	for _, m := range s.messages {
		if !m.Processed {
			out = append(out, *m)
		}
	}
	// 按接收时间排序，保证批处理顺序可重现。
	sort.Slice(out, func(i, j int) bool { return out[i].Received.Before(out[j].Received) })
	return out, nil
}

func (s *Store) UpdateHarvestedMessage(m *domain.HarvestedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *Store) SaveAttachment(a *domain.HarvestedAttachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.attachments[a.ID] = &cp
	return nil
}

func (s *Store) ListAttachments(messageID string) ([]domain.HarvestedAttachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.HarvestedAttachment
	for _, a := range s.attachments {
		if a.HarvestedMessageID == messageID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SetAttachmentRecord(attachmentID, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attachments[attachmentID]
	if !ok {
		return storage.ErrNotFound
	}
	a.RecordID = &recordID
	return nil
}

// ========== ReferralRepository ==========

func (s *Store) GetReferralByReference(reference string) (*domain.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.referrals {
		if r.Live() && strings.EqualFold(r.Reference, reference) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) CreateReferral(r *domain.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.referrals[r.ID] = &cp
	return nil
}

func (s *Store) AttachRegion(referralID, regionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.referrals[referralID]; !ok {
		return storage.ErrNotFound
	}
	s.refRegions[referralID] = append(s.refRegions[referralID], regionID)
	return nil
}

func (s *Store) AttachTrigger(referralID, triggerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.referrals[referralID]; !ok {
		return storage.ErrNotFound
	}
	for _, id := range s.refTriggers[referralID] {
		if id == triggerID {
			return nil
		}
	}
	s.refTriggers[referralID] = append(s.refTriggers[referralID], triggerID)
	return nil
}

func (s *Store) CountTriggers(referralID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refTriggers[referralID]), nil
}

func (s *Store) RelateReferrals(aID, bID string) error {
	if aID == bID {
		// 自关联静默拒绝。
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.related[aID] == nil {
		s.related[aID] = make(map[string]bool)
	}
	if s.related[bID] == nil {
		s.related[bID] = make(map[string]bool)
	}
	s.related[aID][bID] = true
	s.related[bID][aID] = true
	return nil
}

func (s *Store) ListRelatedReferralIDs(referralID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id := range s.related[referralID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) CreateTask(t *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *Store) CreateRecord(r *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.records[r.ID] = &cp
	return nil
}

func (s *Store) CreateLocation(l *domain.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.locations[l.ID] = &cp
	return nil
}

func (s *Store) ListLocationsWithPoly(excludeReferralID string) ([]domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Location
	for _, l := range s.locations {
		if l.Live() && l.HasPoly() && l.ReferralID != excludeReferralID {
			out = append(out, *l)
		}
	}
	return out, nil
}

// ========== CatalogRepository ==========

func (s *Store) SaveRegion(r *domain.Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.regions[r.ID] = &cp
	return nil
}

func (s *Store) ListRegions() ([]domain.Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Region
	for _, r := range s.regions {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetRegionByName(name string) (*domain.Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.regions {
		if strings.EqualFold(r.Name, name) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) SaveReferralType(t *domain.ReferralType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.refTypes[t.ID] = &cp
	return nil
}

func (s *Store) GetReferralTypeByPrefix(code string) (*domain.ReferralType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, storage.ErrNotFound
	}
	for _, t := range s.refTypes {
		if strings.HasPrefix(strings.ToLower(t.Name), code) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) SaveDopTrigger(t *domain.DopTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.triggers[t.ID] = &cp
	return nil
}

func (s *Store) GetDopTriggerByName(name string) (*domain.DopTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.triggers {
		if strings.EqualFold(t.Name, name) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) GetDopTriggerByPrefix(token string) (*domain.DopTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return nil, storage.ErrNotFound
	}
	for _, t := range s.triggers {
		if strings.HasPrefix(strings.ToLower(t.Name), token) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) SaveLocalGovernment(l *domain.LocalGovernment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.lgas[l.ID] = &cp
	return nil
}

func (s *Store) GetLocalGovernmentByName(name string) (*domain.LocalGovernment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.lgas {
		if strings.EqualFold(l.Name, name) {
			cp := *l
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) SaveAgency(a *domain.Agency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.agencies[a.ID] = &cp
	return nil
}

func (s *Store) GetAgencyBySlug(slug string) (*domain.Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agencies {
		if a.Slug == slug {
			cp := *a
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) SaveOrganisation(o *domain.Organisation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orgs[o.ID] = &cp
	return nil
}

func (s *Store) GetOrganisationByName(name string) (*domain.Organisation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orgs {
		if strings.EqualFold(o.Name, name) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) SaveTaskType(t *domain.TaskType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.taskTypes[t.ID] = &cp
	return nil
}

func (s *Store) GetTaskTypeByName(name string) (*domain.TaskType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.taskTypes {
		if strings.EqualFold(t.Name, name) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) SaveUser(u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) GetUserByUsername(username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) SaveRegionAssignee(ra *domain.RegionAssignee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignees[ra.RegionID] = ra.UserID
	return nil
}

func (s *Store) GetRegionAssignee(regionID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.assignees[regionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// ========== 测试辅助 ==========

// GetReferral 按 ID 返回转介（供测试断言使用）。
func (s *Store) GetReferral(id string) (*domain.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.referrals[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ListTasks 返回某转介下的全部任务。
func (s *Store) ListTasks(referralID string) []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.ReferralID == referralID {
			out = append(out, *t)
		}
	}
	return out
}

// ListRecords 返回某转介下的全部档案。
func (s *Store) ListRecords(referralID string) []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Record
	for _, r := range s.records {
		if r.ReferralID == referralID {
			out = append(out, *r)
		}
	}
	return out
}

// ListReferralTriggerIDs 返回某转介挂接的触发点 ID。
func (s *Store) ListReferralTriggerIDs(referralID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.refTriggers[referralID]...)
}

// ListReferralRegionIDs 返回某转介挂接的区域 ID。
func (s *Store) ListReferralRegionIDs(referralID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.refRegions[referralID]...)
}

// CountReferrals 返回 live 转介总数。
func (s *Store) CountReferrals() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.referrals {
		if r.Live() {
			n++
		}
	}
	return n
}
