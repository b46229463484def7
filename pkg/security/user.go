package security

import "os"

// CurrentUser возвращает имя пользователя ОС для журнала аудита
func CurrentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}
	return "unknown"
}
