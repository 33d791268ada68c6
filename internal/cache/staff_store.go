package cache

import (
	"context"
	stderrors "errors"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
	"github.com/zhouzirui/supportdesk/backend/internal/model/staff"
)

// DefaultPrefix namespaces every key written by StaffStore.
const DefaultPrefix = "supportdesk:"

const (
	fieldID              = "id"
	fieldDisplayName     = "displayName"
	fieldRole            = "role"
	fieldStatus          = "status"
	fieldStatusChangedAt = "statusChangedAt"
	fieldLastAssignedAt  = "lastAssignedAt"
)

// StaffStore implements staff.Store with one hash per member and a set of ids.
type StaffStore struct {
	client *redis.Client
	prefix string
}

var _ staff.Store = (*StaffStore)(nil)

// NewStaffStore wraps client. An empty prefix uses DefaultPrefix.
func NewStaffStore(client *redis.Client, prefix string) *StaffStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &StaffStore{client: client, prefix: prefix}
}

func (s *StaffStore) memberKey(id string) string {
	return s.prefix + "staff:" + id
}

func (s *StaffStore) idsKey() string {
	return s.prefix + "staff:ids"
}

// List returns every member ordered by id.
func (s *StaffStore) List(ctx context.Context) ([]staff.Member, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list staff ids")
	}
	if len(ids) == 0 {
		return []staff.Member{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.memberKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load staff")
	}

	out := make([]staff.Member, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		out = append(out, decodeMember(fields))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get looks up one member.
func (s *StaffStore) Get(ctx context.Context, id string) (staff.Member, error) {
	fields, err := s.client.HGetAll(ctx, s.memberKey(id)).Result()
	if err != nil {
		return staff.Member{}, errors.Wrapf(err, "load staff %s", id)
	}
	if len(fields) == 0 {
		return staff.Member{}, apperr.NotFound("staff member", id)
	}
	return decodeMember(fields), nil
}

// Put creates a member or replaces its identity fields, keeping presence.
func (s *StaffStore) Put(ctx context.Context, member staff.Member) (staff.Member, error) {
	if err := member.Validate(); err != nil {
		return staff.Member{}, err
	}
	status := member.Status
	if status == "" {
		status = staff.StatusOffline
	}

	key := s.memberKey(member.ID)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, fieldID, member.ID, fieldDisplayName, member.DisplayName, fieldRole, string(member.Role))
		p.HSetNX(ctx, key, fieldStatus, string(status))
		p.SAdd(ctx, s.idsKey(), member.ID)
		return nil
	})
	if err != nil {
		return staff.Member{}, errors.Wrapf(err, "put staff %s", member.ID)
	}
	return s.Get(ctx, member.ID)
}

// SetStatus records a presence change. The change time moves only when the
// status actually changes.
func (s *StaffStore) SetStatus(ctx context.Context, id string, status staff.Status, at time.Time) (staff.Member, error) {
	key := s.memberKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldStatus).Result()
		if stderrors.Is(err, redis.Nil) {
			return apperr.NotFound("staff member", id)
		}
		if err != nil {
			return err
		}
		if staff.Status(current) == status {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, fieldStatus, string(status), fieldStatusChangedAt, formatTime(at))
			return nil
		})
		return err
	}, key)
	if err != nil {
		if apperr.Kind(err) != nil {
			return staff.Member{}, err
		}
		return staff.Member{}, errors.Wrapf(err, "set status of %s", id)
	}
	return s.Get(ctx, id)
}

// MarkAssigned stamps the time the member last received a chat.
func (s *StaffStore) MarkAssigned(ctx context.Context, id string, at time.Time) error {
	key := s.memberKey(id)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return errors.Wrapf(err, "check staff %s", id)
	}
	if n == 0 {
		return apperr.NotFound("staff member", id)
	}
	if err := s.client.HSet(ctx, key, fieldLastAssignedAt, formatTime(at)).Err(); err != nil {
		return errors.Wrapf(err, "mark %s assigned", id)
	}
	return nil
}

func decodeMember(fields map[string]string) staff.Member {
	return staff.Member{
		ID:              fields[fieldID],
		DisplayName:     fields[fieldDisplayName],
		Role:            staff.Role(fields[fieldRole]),
		Status:          staff.Status(fields[fieldStatus]),
		StatusChangedAt: parseTime(fields[fieldStatusChangedAt]),
		LastAssignedAt:  parseTime(fields[fieldLastAssignedAt]),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	return &t
}
