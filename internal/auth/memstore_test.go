package auth

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/weatherid/internal/model"
	"github.com/hitoshi/weatherid/internal/repository"
)

// --- インメモリStore ---
// PostgresStoreと同じ制約（phone・external_oauth_id・tokenの一意性）と
// トランザクションのロールバックを再現する。WithinTxはトランザクションを直列化する。

type memState struct {
	nextID   int64
	users    map[int64]*model.User
	byPhone  map[string]int64
	byExt    map[string]int64
	sessions map[string]model.Session
	settings map[int64]bool
}

func newMemState() *memState {
	return &memState{
		users:    map[int64]*model.User{},
		byPhone:  map[string]int64{},
		byExt:    map[string]int64{},
		sessions: map[string]model.Session{},
		settings: map[int64]bool{},
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	c.nextID = st.nextID
	for id, u := range st.users {
		cp := *u
		if u.ExternalOAuthID != nil {
			ext := *u.ExternalOAuthID
			cp.ExternalOAuthID = &ext
		}
		c.users[id] = &cp
	}
	for k, v := range st.byPhone {
		c.byPhone[k] = v
	}
	for k, v := range st.byExt {
		c.byExt[k] = v
	}
	for k, v := range st.sessions {
		c.sessions[k] = v
	}
	for k, v := range st.settings {
		c.settings[k] = v
	}
	return c
}

type memDB struct {
	mu sync.Mutex
	st *memState

	// failSessionCreate が設定されている場合、セッション作成はこのエラーで失敗する
	failSessionCreate error
}

type memStore struct {
	db *memDB
	tx bool
}

func newMemStore() *memStore {
	return &memStore{db: &memDB{st: newMemState()}}
}

func (s *memStore) do(fn func(st *memState) error) error {
	if !s.tx {
		s.db.mu.Lock()
		defer s.db.mu.Unlock()
	}
	return fn(s.db.st)
}

func (s *memStore) Users() repository.UserRepository { return memUsers{s} }
func (s *memStore) Sessions() repository.SessionRepository { return memSessions{s} }
func (s *memStore) Settings() repository.SettingsRepository {
	return memSettings{s}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.tx {
		return fn(s)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	snapshot := s.db.st.clone()
	if err := fn(&memStore{db: s.db, tx: true}); err != nil {
		s.db.st = snapshot
		return err
	}
	return nil
}

// snapshot はテストの検証用に現在の状態のコピーを返す。
func (s *memStore) snapshot() *memState {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.st.clone()
}

type memUsers struct{ s *memStore }

func (r memUsers) create(st *memState, phone, first, last string, ext *string) int64 {
	st.nextID++
	id := st.nextID
	st.users[id] = &model.User{
		ID: id, Phone: phone, FirstName: first, LastName: last, ExternalOAuthID: ext,
	}
	st.byPhone[phone] = id
	if ext != nil {
		st.byExt[*ext] = id
	}
	return id
}

func (r memUsers) UpsertByPhone(_ context.Context, phone, first, last string) (int64, error) {
	var id int64
	err := r.s.do(func(st *memState) error {
		if existing, ok := st.byPhone[phone]; ok {
			st.users[existing].FirstName = first
			st.users[existing].LastName = last
			id = existing
			return nil
		}
		id = r.create(st, phone, first, last, nil)
		return nil
	})
	return id, err
}

func (r memUsers) UpsertByExternalID(_ context.Context, externalID, phone, first, last string) (int64, error) {
	var id int64
	err := r.s.do(func(st *memState) error {
		if existing, ok := st.byExt[externalID]; ok {
			st.users[existing].FirstName = first
			st.users[existing].LastName = last
			id = existing
			return nil
		}
		if _, taken := st.byPhone[phone]; taken {
			return model.ErrConflict
		}
		ext := externalID
		id = r.create(st, phone, first, last, &ext)
		return nil
	})
	return id, err
}

func (r memUsers) FindIDByPhone(_ context.Context, phone string) (int64, error) {
	var id int64
	err := r.s.do(func(st *memState) error {
		existing, ok := st.byPhone[phone]
		if !ok {
			return model.ErrUserNotFound
		}
		id = existing
		return nil
	})
	return id, err
}

func (r memUsers) FindByID(_ context.Context, id int64) (*model.User, error) {
	var user *model.User
	err := r.s.do(func(st *memState) error {
		u, ok := st.users[id]
		if !ok {
			return model.ErrUserNotFound
		}
		cp := *u
		user = &cp
		return nil
	})
	return user, err
}

func (r memUsers) UpdateProfile(_ context.Context, id int64, first, last, phone string) error {
	return r.s.do(func(st *memState) error {
		u, ok := st.users[id]
		if !ok {
			return model.ErrUserNotFound
		}
		if owner, taken := st.byPhone[phone]; taken && owner != id {
			return model.ErrConflict
		}
		delete(st.byPhone, u.Phone)
		u.FirstName, u.LastName, u.Phone = first, last, phone
		st.byPhone[phone] = id
		return nil
	})
}

type memSessions struct{ s *memStore }

func (r memSessions) Create(_ context.Context, session *model.Session) error {
	return r.s.do(func(st *memState) error {
		if r.s.db.failSessionCreate != nil {
			return r.s.db.failSessionCreate
		}
		if _, ok := st.users[session.UserID]; !ok {
			return model.ErrUserNotFound
		}
		if _, dup := st.sessions[session.Token]; dup {
			return model.ErrConflict
		}
		st.sessions[session.Token] = *session
		return nil
	})
}

func (r memSessions) FindValid(_ context.Context, token string, now time.Time) (*model.Session, error) {
	var found *model.Session
	err := r.s.do(func(st *memState) error {
		session, ok := st.sessions[token]
		if !ok || !session.ValidAt(now) {
			return model.ErrInvalidToken
		}
		found = &session
		return nil
	})
	return found, err
}

func (r memSessions) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.s.do(func(st *memState) error {
		for token, session := range st.sessions {
			if session.ExpiresAt.Before(before) {
				delete(st.sessions, token)
				n++
			}
		}
		return nil
	})
	return n, err
}

type memSettings struct{ s *memStore }

func (r memSettings) EnsureExists(_ context.Context, userID int64) error {
	return r.s.do(func(st *memState) error {
		st.settings[userID] = true
		return nil
	})
}

var _ repository.Store = (*memStore)(nil)
