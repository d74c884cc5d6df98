package auth

import (
	"fmt"

	"social-app/internal/models"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const roleModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && (r.act == p.act || p.act == "*")
`

// ObjectAdmin is the policy object for the admin namespace and its operations.
const ObjectAdmin = "admin"

// ActionConnect is checked before a connection joins the admin namespace.
const ActionConnect = "connect"

var defaultPolicy = [][]string{
	{string(models.RoleAdmin), ObjectAdmin, "*"},
}

// Authorizer is the role predicate layered on top of authentication.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
}

func NewAuthorizer() (*Authorizer, error) {
	m, err := model.NewModelFromString(roleModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	for _, rule := range defaultPolicy {
		if _, err := e.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
			return nil, fmt.Errorf("failed to add policy %v: %w", rule, err)
		}
	}
	return &Authorizer{enforcer: e}, nil
}

// Allow reports whether the principal's role may perform act on obj.
func (a *Authorizer) Allow(p models.Principal, obj, act string) (bool, error) {
	return a.enforcer.Enforce(string(p.Role), obj, act)
}

// AuthorizeAdmin gates the admin namespace and every operation on it.
func (a *Authorizer) AuthorizeAdmin(p models.Principal, act string) error {
	ok, err := a.Allow(p, ObjectAdmin, act)
	if err != nil {
		return models.Internal(err)
	}
	if !ok {
		return models.ErrAdminRequired
	}
	return nil
}
