// Пакет rbac — роли сотрудников и правила доступа.
// Роли упорядочены по весу: operador < operador-vip < admin < super-admin.
// Повышенные роли (admin, super-admin) видят записи всех владельцев.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleOperador    = "operador"
	RoleOperadorVIP = "operador-vip"
	RoleAdmin       = "admin"
	RoleSuperAdmin  = "super-admin"
)

// roleWeight — вес роли для сравнения.
var roleWeight = map[string]int{
	RoleOperador:    1,
	RoleOperadorVIP: 2,
	RoleAdmin:       3,
	RoleSuperAdmin:  4,
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную известную роль из набора.
// Неизвестные роли игнорируются; если известных нет — пустая строка.
func HighestRole(roles []string) string {
	highest := ""
	for _, r := range roles {
		if !IsValidRole(r) {
			continue
		}
		highest = maxRole(highest, r)
	}
	return highest
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// AtLeast — роль не ниже min.
func AtLeast(role, min string) bool {
	return IsValidRole(role) && roleWeight[role] >= roleWeight[min]
}

// IsElevated — admin или super-admin.
func IsElevated(role string) bool {
	return AtLeast(role, RoleAdmin)
}

// CanAudit — доступ к аудитам и аналитике gestiones.
// Рядовой operador исключён.
func CanAudit(role string) bool {
	return AtLeast(role, RoleOperadorVIP)
}

// CanMutate — actor может изменять запись владельца ownerID.
func CanMutate(actorID, role, ownerID string) bool {
	return actorID == ownerID || IsElevated(role)
}
